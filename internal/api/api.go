package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/hypernova-labs/fiscal-service/internal/services"
	"github.com/hypernova-labs/fiscal-service/internal/workflows"
	"github.com/sirupsen/logrus"
)

// maxCertificateSize limita el tamaño del contenedor PKCS#12 aceptado
const maxCertificateSize = 5 << 20

// API maneja todos los endpoints del servicio fiscal
type API struct {
	orchestrator  *services.OrchestratorService
	inngestClient *workflows.InngestClient
	logger        *logrus.Logger
}

// NewAPI crea una nueva instancia de la API
func NewAPI(orchestrator *services.OrchestratorService, inngestClient *workflows.InngestClient, logger *logrus.Logger) *API {
	return &API{
		orchestrator:  orchestrator,
		inngestClient: inngestClient,
		logger:        logger,
	}
}

// ConfigureIntegration crea o actualiza la integración fiscal de un tenant
func (api *API) ConfigureIntegration(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	var req models.ConfigureIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.logger.WithError(err).Error("Error binding configure integration request")
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Invalid request format", []models.ErrorDetail{
			{Field: "body", Issue: err.Error()},
		}))
		return
	}

	response, err := api.orchestrator.ConfigureIntegration(tenantID, &req)
	if err != nil {
		api.respondError(c, err, "Error configuring integration")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetIntegration obtiene la integración fiscal de un tenant
func (api *API) GetIntegration(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	response, err := api.orchestrator.GetIntegration(tenantID)
	if err != nil {
		api.respondError(c, err, "Error getting integration")
		return
	}
	if response == nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("Integration not configured"))
		return
	}

	c.JSON(http.StatusOK, response)
}

// UploadCertificate recibe el contenedor PKCS#12 del tenant por multipart
// (campos: certificate, password)
func (api *API) UploadCertificate(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("certificate")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Certificate file required", []models.ErrorDetail{
			{Field: "certificate", Issue: "multipart field 'certificate' is required"},
		}))
		return
	}
	if fileHeader.Size > maxCertificateSize {
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Certificate file too large", []models.ErrorDetail{
			{Field: "certificate", Issue: "file exceeds the 5MB limit"},
		}))
		return
	}

	password := c.PostForm("password")

	file, err := fileHeader.Open()
	if err != nil {
		api.logger.WithError(err).Error("Error opening certificate upload")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error reading certificate file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.logger.WithError(err).Error("Error reading certificate upload")
		c.JSON(http.StatusInternalServerError, models.NewInternalError("Error reading certificate file"))
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-pkcs12"
	}

	response, err := api.orchestrator.UploadCertificate(c.Request.Context(), tenantID, fileHeader.Filename, contentType, data, password)
	if err != nil {
		api.respondError(c, err, "Error uploading certificate")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetCertificate obtiene el certificado vigente de un tenant
func (api *API) GetCertificate(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	response, err := api.orchestrator.GetCertificate(tenantID)
	if err != nil {
		api.respondError(c, err, "Error getting certificate")
		return
	}
	if response == nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("No certificate uploaded"))
		return
	}

	c.JSON(http.StatusOK, response)
}

// ProvisionCompany registra la empresa del tenant ante el gateway fiscal
func (api *API) ProvisionCompany(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	var req models.ProvisionCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.logger.WithError(err).Error("Error binding provision company request")
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Invalid request format", []models.ErrorDetail{
			{Field: "body", Issue: err.Error()},
		}))
		return
	}

	response, err := api.orchestrator.ProvisionCompany(c.Request.Context(), tenantID, &req)
	if err != nil {
		api.respondError(c, err, "Error provisioning company")
		return
	}

	c.JSON(http.StatusOK, response)
}

// IssueDocument emite un documento fiscal
func (api *API) IssueDocument(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	var req models.IssueDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.logger.WithError(err).Error("Error binding issue document request")
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Invalid request format", []models.ErrorDetail{
			{Field: "body", Issue: err.Error()},
		}))
		return
	}

	response, err := api.orchestrator.IssueDocument(c.Request.Context(), tenantID, &req)
	if err != nil {
		// El documento puede haber quedado persistido aunque el envío
		// fallara; la respuesta refleja lo que el ledger registró
		var unavailable *models.ProviderUnavailableError
		if errors.As(err, &unavailable) && response != nil {
			// Desenlace desconocido: el reconciliador lo resolverá
			c.JSON(http.StatusAccepted, response)
			return
		}
		api.respondError(c, err, "Error issuing document")
		return
	}

	// El evento dispara la reconciliación asíncrona del documento;
	// fallar aquí no afecta la emisión ya registrada
	if api.inngestClient != nil {
		if err := api.inngestClient.SendDocumentSubmitted(c.Request.Context(), workflows.DocumentSubmittedInput{
			TenantID: tenantID.String(),
			Ref:      response.Ref,
		}); err != nil {
			api.logger.Warnf("Error sending document submitted event: %v", err)
		}
	}

	c.JSON(http.StatusCreated, response)
}

// GetDocument obtiene un documento por su ref
func (api *API) GetDocument(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}
	ref := c.Param("ref")

	response, err := api.orchestrator.GetDocument(tenantID, ref)
	if err != nil {
		api.respondError(c, err, "Error getting document")
		return
	}
	if response == nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("Document not found"))
		return
	}

	c.JSON(http.StatusOK, response)
}

// ListDocuments obtiene los documentos de un tenant con paginación
func (api *API) ListDocuments(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	response, err := api.orchestrator.ListDocuments(tenantID, page, pageSize)
	if err != nil {
		api.respondError(c, err, "Error listing documents")
		return
	}

	c.JSON(http.StatusOK, response)
}

// RefreshDocumentStatus fuerza la reconciliación de un documento
func (api *API) RefreshDocumentStatus(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}
	ref := c.Param("ref")

	response, err := api.orchestrator.RefreshDocumentStatus(c.Request.Context(), tenantID, ref)
	if err != nil {
		api.respondError(c, err, "Error refreshing document status")
		return
	}
	if response == nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("Document not found"))
		return
	}

	c.JSON(http.StatusOK, response)
}

// CancelDocument cancela un documento autorizado
func (api *API) CancelDocument(c *gin.Context) {
	tenantID, ok := api.tenantID(c)
	if !ok {
		return
	}
	ref := c.Param("ref")

	response, err := api.orchestrator.CancelDocument(c.Request.Context(), tenantID, ref)
	if err != nil {
		api.respondError(c, err, "Error cancelling document")
		return
	}
	if response == nil {
		c.JSON(http.StatusNotFound, models.NewNotFoundError("Document not found"))
		return
	}

	c.JSON(http.StatusOK, response)
}

// tenantID parsea el tenant del path; responde 400 si no es un UUID
func (api *API) tenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Invalid tenant ID", []models.ErrorDetail{
			{Field: "tenant_id", Issue: "Must be a valid UUID"},
		}))
		return uuid.Nil, false
	}
	return id, true
}

// respondError traduce los errores tipados de los servicios al envelope
// HTTP. Cualquier error no reconocido es un 500 genérico.
func (api *API) respondError(c *gin.Context, err error, logMessage string) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, models.NewValidationErrorResponse("Validation failed", []models.ErrorDetail{
			{Field: validation.Field, Issue: validation.Issue},
		}))
		return
	}

	var invalidCert *models.InvalidCertificateError
	if errors.As(err, &invalidCert) {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrorCodeInvalidRequest, invalidCert.Error()))
		return
	}

	var malformedCert *models.MalformedCertificateError
	if errors.As(err, &malformedCert) {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrorCodeInvalidRequest, malformedCert.Error()))
		return
	}

	var precondition *models.PreconditionFailedError
	if errors.As(err, &precondition) {
		c.JSON(http.StatusConflict, models.NewErrorResponse(models.ErrorCodePreconditionFailed, precondition.Error()))
		return
	}

	var duplicate *models.DuplicateRefError
	if errors.As(err, &duplicate) {
		c.JSON(http.StatusConflict, models.NewConflictError(duplicate.Error()))
		return
	}

	var rejected *models.ProviderRejectedError
	if errors.As(err, &rejected) {
		// El texto crudo del proveedor viaja al caller: es el material
		// de diagnóstico del rechazo
		c.JSON(http.StatusUnprocessableEntity, models.NewErrorResponse(models.ErrorCodeProviderRejected, rejected.ProviderMessage))
		return
	}

	var unavailable *models.ProviderUnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusBadGateway, models.NewErrorResponse(models.ErrorCodeProviderUnavailable, "Fiscal provider unavailable, try again later"))
		return
	}

	api.logger.WithError(err).Error(logMessage)
	c.JSON(http.StatusInternalServerError, models.NewInternalError(logMessage))
}
