package models

import "fmt"

// ValidationError representa un error de forma en el input del caller.
// Recuperable corrigiendo el request; el sistema nunca lo reintenta.
type ValidationError struct {
	Field string
	Issue string
}

// Error implementa la interfaz error
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Issue)
	}
	return fmt.Sprintf("validation failed: %s", e.Issue)
}

// NewValidationFieldError crea un error de validación para un campo
func NewValidationFieldError(field, issue string) error {
	return &ValidationError{Field: field, Issue: issue}
}

// InvalidCertificateError representa un contenedor que no se pudo
// descifrar con la contraseña dada
type InvalidCertificateError struct {
	Reason string
}

// Error implementa la interfaz error
func (e *InvalidCertificateError) Error() string {
	return fmt.Sprintf("invalid certificate: %s", e.Reason)
}

// MalformedCertificateError representa un contenedor que no es un
// PKCS#12 bien formado, distinto de una contraseña incorrecta
type MalformedCertificateError struct {
	Reason string
}

// Error implementa la interfaz error
func (e *MalformedCertificateError) Error() string {
	return fmt.Sprintf("malformed certificate container: %s", e.Reason)
}

// PreconditionFailedError representa una violación de orden del workflow.
// Precondition nombra el requisito incumplido.
type PreconditionFailedError struct {
	Precondition string
}

// Error implementa la interfaz error
func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Precondition)
}

// DuplicateRefError representa una violación de idempotencia:
// ya existe un documento no reenviable con el mismo (tenant, ref)
type DuplicateRefError struct {
	Ref string
}

// Error implementa la interfaz error
func (e *DuplicateRefError) Error() string {
	return fmt.Sprintf("document with ref %q already exists", e.Ref)
}

// ProviderRejectedError representa un rechazo definitivo del gateway (4xx).
// ProviderMessage conserva el texto crudo del proveedor: los operadores
// necesitan la redacción exacta de la autoridad fiscal.
type ProviderRejectedError struct {
	StatusCode      int
	ProviderMessage string
}

// Error implementa la interfaz error
func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.ProviderMessage)
}

// ProviderUnavailableError representa un fallo transitorio agotado el
// presupuesto de reintentos. El estado remoto queda desconocido: el
// caller no debe tratarlo como fallo definitivo.
type ProviderUnavailableError struct {
	Attempts int
	Err      error
}

// Error implementa la interfaz error
func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider unavailable after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap expone la causa subyacente
func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// ErrorCode representa el código de error de la API
type ErrorCode string

const (
	ErrorCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrorCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrorCodeConflict            ErrorCode = "CONFLICT"
	ErrorCodePreconditionFailed  ErrorCode = "PRECONDITION_FAILED"
	ErrorCodeProviderRejected    ErrorCode = "PROVIDER_REJECTED"
	ErrorCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrorCodeInternal            ErrorCode = "INTERNAL"
)

// ErrorDetail representa un detalle específico del error
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ErrorInfo representa la información del error
type ErrorInfo struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorResponse representa la respuesta de error estandarizada
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// NewErrorResponse crea una nueva respuesta de error
func NewErrorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorInfo{
			Code:    string(code),
			Message: message,
		},
	}
}

// NewValidationErrorResponse crea una respuesta de validación con detalles
func NewValidationErrorResponse(message string, details []ErrorDetail) ErrorResponse {
	return ErrorResponse{
		Error: ErrorInfo{
			Code:    string(ErrorCodeInvalidRequest),
			Message: message,
			Details: details,
		},
	}
}

// NewConflictError crea un error de conflicto (idempotencia)
func NewConflictError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeConflict, message)
}

// NewNotFoundError crea un error de recurso no encontrado
func NewNotFoundError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeNotFound, message)
}

// NewInternalError crea un error interno del servidor
func NewInternalError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeInternal, message)
}
