package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/hypernova-labs/fiscal-service/internal/pac"
)

// IntegrationStore es el contrato de persistencia para FiscalIntegration
type IntegrationStore interface {
	GetByTenant(tenantID uuid.UUID) (*models.FiscalIntegration, error)
	Upsert(integration *models.FiscalIntegration) error
	SetCertificateInfo(tenantID uuid.UUID, notBefore, notAfter time.Time, taxID string) error
	SetProvisioningResult(tenantID uuid.UUID, entityID, tokenStaging, tokenProduction string) error
}

// CertificateStore es el contrato de persistencia para FiscalCertificate
type CertificateStore interface {
	GetByTenant(tenantID uuid.UUID) (*models.FiscalCertificate, error)
	Replace(cert *models.FiscalCertificate) error
	UpdateStatus(tenantID uuid.UUID, status models.CertificateStatus) error
}

// DocumentStore es el contrato de persistencia para FiscalDocument
type DocumentStore interface {
	Create(doc *models.FiscalDocument) error
	GetByID(id uuid.UUID) (*models.FiscalDocument, error)
	GetByRef(tenantID uuid.UUID, ref string) (*models.FiscalDocument, error)
	TransitionStatus(id uuid.UUID, from, to models.DocumentStatus) (bool, error)
	SetAuthorizationArtifacts(id uuid.UUID, number, series, accessKey, pdfURL, xmlURL string) error
	SetProviderMessage(id uuid.UUID, message string) error
	Resubmit(id uuid.UUID, payload []byte) (bool, error)
	ListPending(updatedBefore time.Time, limit int) ([]models.FiscalDocument, error)
	ListByTenant(tenantID uuid.UUID, page, pageSize int) ([]models.FiscalDocument, int, error)
}

// ContainerStorage es el contrato del storage de contenedores de certificados
type ContainerStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// GatewayClient es el contrato del adaptador contra el gateway fiscal
type GatewayClient interface {
	ProvisionEntity(ctx context.Context, creds pac.Credentials, data *models.ProvisionCompanyRequest) (*pac.ProvisionResult, error)
	SubmitDocument(ctx context.Context, creds pac.Credentials, docType models.DocumentType, ref string, payload json.RawMessage) (*pac.SubmissionAck, error)
	QueryStatus(ctx context.Context, creds pac.Credentials, ref string) (*pac.DocumentStatus, error)
	CancelDocument(ctx context.Context, creds pac.Credentials, ref string) (*pac.DocumentStatus, error)
}
