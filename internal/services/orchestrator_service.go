package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
)

// OrchestratorService coordina el flujo de alta y emisión de un tenant:
// configurar integración, subir certificado, aprovisionar la empresa
// ante el gateway y emitir documentos. Hace cumplir el orden del
// workflow con chequeos de precondición; la mutación de estado de los
// documentos queda siempre en el ledger.
type OrchestratorService struct {
	integrationSvc *IntegrationService
	certificateSvc *CertificateService
	ledger         *LedgerService
	reconciler     *ReconcilerService
	integrations   IntegrationStore
	gateway        GatewayClient
	requestTimeout time.Duration
	logger         *logrus.Logger
}

// NewOrchestratorService crea una nueva instancia del orquestador.
// requestTimeout acota cada operación que toca el gateway por encima
// del presupuesto de reintentos del cliente.
func NewOrchestratorService(integrationSvc *IntegrationService, certificateSvc *CertificateService, ledger *LedgerService, reconciler *ReconcilerService, integrations IntegrationStore, gateway GatewayClient, requestTimeout time.Duration, logger *logrus.Logger) *OrchestratorService {
	return &OrchestratorService{
		integrationSvc: integrationSvc,
		certificateSvc: certificateSvc,
		ledger:         ledger,
		reconciler:     reconciler,
		integrations:   integrations,
		gateway:        gateway,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// boundCtx acota el contexto de una operación contra el gateway. Un
// proveedor colgado deja de bloquear al caller; el documento en vuelo
// lo resuelve la reconciliación.
func (s *OrchestratorService) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

// ConfigureIntegration crea o actualiza la integración de un tenant
func (s *OrchestratorService) ConfigureIntegration(tenantID uuid.UUID, req *models.ConfigureIntegrationRequest) (*models.IntegrationResponse, error) {
	return s.integrationSvc.Configure(tenantID, req)
}

// GetIntegration obtiene la integración de un tenant, o nil si no existe
func (s *OrchestratorService) GetIntegration(tenantID uuid.UUID) (*models.IntegrationResponse, error) {
	return s.integrationSvc.Get(tenantID)
}

// UploadCertificate sube el certificado de un tenant. La integración
// debe existir primero: el certificado cuelga de ella en el workflow.
func (s *OrchestratorService) UploadCertificate(ctx context.Context, tenantID uuid.UUID, filename, contentType string, data []byte, password string) (*models.CertificateResponse, error) {
	integration, err := s.integrations.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading integration: %w", err)
	}
	if integration == nil {
		return nil, &models.PreconditionFailedError{Precondition: "integration must be configured before uploading a certificate"}
	}

	return s.certificateSvc.Upload(ctx, tenantID, filename, contentType, data, password)
}

// GetCertificate obtiene el certificado de un tenant, o nil si no hay
func (s *OrchestratorService) GetCertificate(tenantID uuid.UUID) (*models.CertificateResponse, error) {
	return s.certificateSvc.Get(tenantID)
}

// ProvisionCompany registra la empresa del tenant ante el gateway.
// Exige integración habilitada con token, certificado vigente y que el
// tax id del certificado coincida con el declarado; el primer requisito
// incumplido se reporta por nombre.
func (s *OrchestratorService) ProvisionCompany(ctx context.Context, tenantID uuid.UUID, req *models.ProvisionCompanyRequest) (*models.ProvisionCompanyResponse, error) {
	integration, err := s.preflight(tenantID, req.TaxID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	result, err := s.gateway.ProvisionEntity(ctx, credsFor(integration, integration.Environment), req)
	if err != nil {
		return nil, err
	}

	if err := s.integrations.SetProvisioningResult(tenantID, result.EntityID, result.TokenStaging, result.TokenProduction); err != nil {
		return nil, fmt.Errorf("error saving provisioning result: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"entity_id": result.EntityID,
	}).Info("Company provisioned with gateway")

	return &models.ProvisionCompanyResponse{
		ProviderEntityID: result.EntityID,
		Provisioned:      true,
	}, nil
}

// preflight verifica las precondiciones compartidas entre
// aprovisionamiento y emisión: integración habilitada con token y
// certificado vigente. Con taxID vacío se omite la comparación de
// sujetos.
func (s *OrchestratorService) preflight(tenantID uuid.UUID, taxID string) (*models.FiscalIntegration, error) {
	integration, err := s.integrations.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading integration: %w", err)
	}
	if integration == nil {
		return nil, &models.PreconditionFailedError{Precondition: "integration must be configured"}
	}
	if !integration.Enabled {
		return nil, &models.PreconditionFailedError{Precondition: "integration must be enabled"}
	}
	if integration.TokenFor(integration.Environment) == "" {
		return nil, &models.PreconditionFailedError{Precondition: fmt.Sprintf("token for environment %s must be configured", integration.Environment)}
	}

	cert, err := s.certificateSvc.GetRecord(tenantID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, &models.PreconditionFailedError{Precondition: "certificate must be uploaded"}
	}
	now := time.Now()
	if cert.EffectiveStatus(now) != models.CertificateStatusValid {
		return nil, &models.PreconditionFailedError{Precondition: fmt.Sprintf("certificate must be valid, current status is %s", cert.EffectiveStatus(now))}
	}
	if taxID != "" && cert.TaxID != taxID {
		return nil, &models.PreconditionFailedError{Precondition: "certificate tax id does not match the declared company tax id"}
	}

	return integration, nil
}

// IssueDocument valida y emite un documento fiscal. Exige integración
// habilitada, certificado vigente y empresa aprovisionada; la
// validación ocurre toda antes de persistir nada, así un request que
// no cumple no deja rastro en el ledger.
func (s *OrchestratorService) IssueDocument(ctx context.Context, tenantID uuid.UUID, req *models.IssueDocumentRequest) (*models.DocumentResponse, error) {
	if !req.DocumentType.IsValid() {
		return nil, models.NewValidationFieldError("document_type", "unknown document type")
	}
	if err := validateDocumentPayload(req); err != nil {
		return nil, err
	}

	integration, err := s.preflight(tenantID, "")
	if err != nil {
		return nil, err
	}
	if !integration.IsProvisioned() {
		return nil, &models.PreconditionFailedError{Precondition: "company must be provisioned before issuing documents"}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error serializing document payload: %w", err)
	}

	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	doc, err := s.ledger.Submit(ctx, integration, req.DocumentType, req.Ref, payload)
	if doc == nil && err != nil {
		return nil, err
	}
	if err != nil {
		// Rechazo o indisponibilidad: el documento quedó persistido con
		// el estado que refleja lo ocurrido, y el error tipado viaja
		// junto con él para que la capa HTTP lo traduzca
		return models.NewDocumentResponse(doc), err
	}

	return models.NewDocumentResponse(doc), nil
}

// validateDocumentPayload verifica los campos que cada tipo de
// documento exige antes de tocar el gateway
func validateDocumentPayload(req *models.IssueDocumentRequest) error {
	switch req.DocumentType {
	case models.DocumentTypeMerchandiseInvoice:
		if req.Recipient == nil {
			return models.NewValidationFieldError("recipient", "recipient is required for merchandise invoices")
		}
		if req.Recipient.TaxID == "" {
			return models.NewValidationFieldError("recipient.tax_id", "recipient tax id is required for merchandise invoices")
		}
		if len(req.Items) == 0 {
			return models.NewValidationFieldError("items", "at least one line item is required")
		}
		if req.Payment == nil {
			return models.NewValidationFieldError("payment", "payment terms are required")
		}
	case models.DocumentTypeRetailReceipt:
		if len(req.Items) == 0 {
			return models.NewValidationFieldError("items", "at least one line item is required")
		}
		if req.Payment == nil {
			return models.NewValidationFieldError("payment", "payment terms are required")
		}
	case models.DocumentTypeServiceInvoice, models.DocumentTypeServiceInvoiceNational:
		if req.Recipient == nil {
			return models.NewValidationFieldError("recipient", "recipient is required for service invoices")
		}
		if req.Service == nil {
			return models.NewValidationFieldError("service", "service detail is required for service invoices")
		}
	}
	return nil
}

// GetDocument obtiene un documento por ref, o nil si no existe
func (s *OrchestratorService) GetDocument(tenantID uuid.UUID, ref string) (*models.DocumentResponse, error) {
	doc, err := s.ledger.GetByRef(tenantID, ref)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return models.NewDocumentResponse(doc), nil
}

// ListDocuments obtiene los documentos de un tenant con paginación
func (s *OrchestratorService) ListDocuments(tenantID uuid.UUID, page, pageSize int) (*models.DocumentListResponse, error) {
	docs, total, err := s.ledger.ListByTenant(tenantID, page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]models.DocumentResponse, 0, len(docs))
	for i := range docs {
		items = append(items, *models.NewDocumentResponse(&docs[i]))
	}

	return &models.DocumentListResponse{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// RefreshDocumentStatus consulta el estado de un documento en el
// gateway y aplica el desenlace, por fuera del ciclo del barrido.
// Retorna nil si el documento no existe.
func (s *OrchestratorService) RefreshDocumentStatus(ctx context.Context, tenantID uuid.UUID, ref string) (*models.DocumentResponse, error) {
	doc, err := s.reconciler.ReconcileDocument(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return models.NewDocumentResponse(doc), nil
}

// CancelDocument cancela un documento autorizado ante el gateway.
// Retorna nil si el documento no existe.
func (s *OrchestratorService) CancelDocument(ctx context.Context, tenantID uuid.UUID, ref string) (*models.DocumentResponse, error) {
	integration, err := s.integrations.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading integration: %w", err)
	}
	if integration == nil {
		return nil, &models.PreconditionFailedError{Precondition: "integration must be configured"}
	}

	doc, err := s.ledger.GetByRef(tenantID, ref)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	cancelled, err := s.ledger.Cancel(ctx, integration, doc.ID)
	if err != nil {
		return nil, err
	}
	return models.NewDocumentResponse(cancelled), nil
}
