package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DocumentType representa el tipo de documento fiscal
type DocumentType string

const (
	DocumentTypeMerchandiseInvoice    DocumentType = "merchandise_invoice"
	DocumentTypeRetailReceipt         DocumentType = "retail_receipt"
	DocumentTypeServiceInvoice        DocumentType = "service_invoice"
	DocumentTypeServiceInvoiceNational DocumentType = "service_invoice_national"
)

// IsValid indica si el tipo de documento es reconocido
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypeMerchandiseInvoice, DocumentTypeRetailReceipt,
		DocumentTypeServiceInvoice, DocumentTypeServiceInvoiceNational:
		return true
	}
	return false
}

// DocumentStatus representa el estado del documento en el ledger
type DocumentStatus string

const (
	DocumentStatusCreated    DocumentStatus = "created"
	DocumentStatusSubmitted  DocumentStatus = "submitted"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusAuthorized DocumentStatus = "authorized"
	DocumentStatusRejected   DocumentStatus = "rejected"
	DocumentStatusError      DocumentStatus = "error"
	DocumentStatusCancelled  DocumentStatus = "cancelled"
)

// IsTerminal indica si el estado no admite más transiciones
// (salvo la cancelación explícita desde authorized)
func (s DocumentStatus) IsTerminal() bool {
	switch s {
	case DocumentStatusAuthorized, DocumentStatusRejected, DocumentStatusCancelled:
		return true
	}
	return false
}

// IsPending indica si el documento sigue pendiente de resolución del proveedor
func (s DocumentStatus) IsPending() bool {
	return s == DocumentStatusSubmitted || s == DocumentStatusProcessing
}

// CanTransition valida una transición de estado del ledger
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case DocumentStatusCreated:
		return to == DocumentStatusSubmitted
	case DocumentStatusSubmitted:
		return to == DocumentStatusProcessing || to == DocumentStatusAuthorized ||
			to == DocumentStatusRejected || to == DocumentStatusError ||
			to == DocumentStatusCancelled
	case DocumentStatusProcessing:
		return to == DocumentStatusAuthorized || to == DocumentStatusRejected ||
			to == DocumentStatusError || to == DocumentStatusCancelled
	case DocumentStatusError:
		// Reintento documentado: un documento en error se puede reenviar
		return to == DocumentStatusSubmitted
	case DocumentStatusAuthorized:
		// Única salida de un estado terminal: cancelación explícita
		return to == DocumentStatusCancelled
	}
	return false
}

// FiscalDocument representa un intento de emisión y su estado actual.
// Es el registro autoritativo: sólo el ledger muta status y los
// artefactos del proveedor.
type FiscalDocument struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TenantID     uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Provider     string          `json:"provider" db:"provider"`
	Environment  Environment     `json:"environment" db:"environment"`
	DocumentType DocumentType    `json:"document_type" db:"document_type"`
	Ref          string          `json:"ref" db:"ref"`
	Status       DocumentStatus  `json:"status" db:"status"`
	Payload      json.RawMessage `json:"payload" db:"payload"`

	// Artefactos del proveedor (inmutables una vez autorizados)
	DocumentNumber *string `json:"document_number,omitempty" db:"document_number"`
	Series         *string `json:"series,omitempty" db:"series"`
	AccessKey      *string `json:"access_key,omitempty" db:"access_key"`
	PDFURL         *string `json:"pdf_url,omitempty" db:"pdf_url"`
	XMLURL         *string `json:"xml_url,omitempty" db:"xml_url"`

	// Último mensaje crudo del proveedor (diagnóstico para rechazos)
	ProviderMessage *string `json:"provider_message,omitempty" db:"provider_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RecipientRequest representa el receptor del documento
type RecipientRequest struct {
	Name    string  `json:"name" binding:"required"`
	TaxID   string  `json:"tax_id"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

// LineItemRequest representa una línea del documento
type LineItemRequest struct {
	Description string  `json:"description" binding:"required"`
	Quantity    float64 `json:"quantity" binding:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" binding:"required,gt=0"`
	TaxRate     string  `json:"tax_rate"`
}

// ServiceRequest representa el detalle de un documento de servicios
type ServiceRequest struct {
	Description  string  `json:"description" binding:"required"`
	Amount       float64 `json:"amount" binding:"required,gt=0"`
	CityCode     *string `json:"city_code,omitempty"`
	ActivityCode *string `json:"activity_code,omitempty"`
}

// PaymentRequest representa las condiciones de pago
type PaymentRequest struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount" binding:"gte=0"`
}

// IssueDocumentRequest representa el request para emitir un documento
type IssueDocumentRequest struct {
	DocumentType DocumentType      `json:"document_type" binding:"required,oneof=merchandise_invoice retail_receipt service_invoice service_invoice_national"`
	Ref          string            `json:"ref,omitempty"`
	Recipient    *RecipientRequest `json:"recipient,omitempty"`
	Items        []LineItemRequest `json:"items,omitempty"`
	Service      *ServiceRequest   `json:"service,omitempty"`
	Payment      *PaymentRequest   `json:"payment,omitempty"`
}

// DocumentResponse representa la respuesta al emitir o consultar un documento
type DocumentResponse struct {
	ID              uuid.UUID      `json:"id"`
	Ref             string         `json:"ref"`
	DocumentType    DocumentType   `json:"document_type"`
	Status          DocumentStatus `json:"status"`
	Environment     Environment    `json:"environment"`
	DocumentNumber  *string        `json:"document_number,omitempty"`
	Series          *string        `json:"series,omitempty"`
	AccessKey       *string        `json:"access_key,omitempty"`
	PDFURL          *string        `json:"pdf_url,omitempty"`
	XMLURL          *string        `json:"xml_url,omitempty"`
	ProviderMessage *string        `json:"provider_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewDocumentResponse construye la respuesta a partir del registro del ledger
func NewDocumentResponse(doc *FiscalDocument) *DocumentResponse {
	return &DocumentResponse{
		ID:              doc.ID,
		Ref:             doc.Ref,
		DocumentType:    doc.DocumentType,
		Status:          doc.Status,
		Environment:     doc.Environment,
		DocumentNumber:  doc.DocumentNumber,
		Series:          doc.Series,
		AccessKey:       doc.AccessKey,
		PDFURL:          doc.PDFURL,
		XMLURL:          doc.XMLURL,
		ProviderMessage: doc.ProviderMessage,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

// DocumentListResponse representa la lista paginada de documentos
type DocumentListResponse struct {
	Items    []DocumentResponse `json:"items"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Total    int                `json:"total"`
}
