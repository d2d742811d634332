package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/hypernova-labs/fiscal-service/internal/pac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	orchestrator *OrchestratorService
	docs         *fakeDocumentStore
	integrations *fakeIntegrationStore
	certs        *fakeCertificateStore
	storage      *fakeStorage
	gateway      *fakeGateway
	certSvc      *CertificateService
}

func newOrchestratorFixture() *orchestratorFixture {
	docs := newFakeDocumentStore()
	integrations := newFakeIntegrationStore()
	certs := newFakeCertificateStore()
	storage := newFakeStorage()
	gateway := &fakeGateway{}
	logger := testLogger()

	integrationSvc := NewIntegrationService(integrations, logger)
	certSvc := NewCertificateService(certs, storage, integrations, logger)
	ledger := NewLedgerService(docs, gateway, logger)
	reconciler := NewReconcilerService(docs, integrations, ledger, gateway, nil, nil, reconcilerConfig(), logger)
	orchestrator := NewOrchestratorService(integrationSvc, certSvc, ledger, reconciler, integrations, gateway, 5*time.Second, logger)

	return &orchestratorFixture{
		orchestrator: orchestrator,
		docs:         docs,
		integrations: integrations,
		certs:        certs,
		storage:      storage,
		gateway:      gateway,
		certSvc:      certSvc,
	}
}

// seedValidCertificate deja un certificado vigente para el tenant
func (f *orchestratorFixture) seedValidCertificate(tenantID uuid.UUID, taxID string) {
	f.certs.Replace(&models.FiscalCertificate{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Provider:  models.ProviderName,
		Status:    models.CertificateStatusValid,
		NotBefore: time.Now().Add(-24 * time.Hour),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		TaxID:     taxID,
	})
}

func provisionRequest(taxID string) *models.ProvisionCompanyRequest {
	return &models.ProvisionCompanyRequest{
		LegalName: "ACME CORP S.A.",
		TaxID:     taxID,
		Email:     "legal@acme.test",
	}
}

func issueRequest(docType models.DocumentType) *models.IssueDocumentRequest {
	req := &models.IssueDocumentRequest{DocumentType: docType, Ref: "ref-1"}
	switch docType {
	case models.DocumentTypeMerchandiseInvoice:
		req.Recipient = &models.RecipientRequest{Name: "Cliente", TaxID: "8-000-111"}
		req.Items = []models.LineItemRequest{{Description: "widget", Quantity: 1, UnitPrice: 10}}
		req.Payment = &models.PaymentRequest{Method: "cash", Amount: 10}
	case models.DocumentTypeRetailReceipt:
		req.Items = []models.LineItemRequest{{Description: "widget", Quantity: 1, UnitPrice: 10}}
		req.Payment = &models.PaymentRequest{Method: "cash", Amount: 10}
	case models.DocumentTypeServiceInvoice, models.DocumentTypeServiceInvoiceNational:
		req.Recipient = &models.RecipientRequest{Name: "Cliente"}
		req.Service = &models.ServiceRequest{Description: "consultoria", Amount: 500}
	}
	return req
}

func assertPrecondition(t *testing.T, err error, contains string) {
	t.Helper()
	var precondition *models.PreconditionFailedError
	require.ErrorAs(t, err, &precondition)
	assert.Contains(t, precondition.Precondition, contains)
}

func TestUploadCertificateRequiresIntegration(t *testing.T) {
	f := newOrchestratorFixture()

	_, err := f.orchestrator.UploadCertificate(context.Background(), uuid.New(), "cert.pfx", "application/x-pkcs12", []byte("x"), "pw")
	assertPrecondition(t, err, "integration")
}

func TestProvisionCompanyPreconditions(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()

	// Sin integración
	_, err := f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-123-456"))
	assertPrecondition(t, err, "integration must be configured")

	// Integración deshabilitada
	integration := seedIntegration(f.integrations, tenantID)
	integration.Enabled = false
	f.integrations.Upsert(integration)
	_, err = f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-123-456"))
	assertPrecondition(t, err, "enabled")

	// Sin token para el ambiente activo
	integration.Enabled = true
	integration.TokenStaging = ""
	f.integrations.Upsert(integration)
	_, err = f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-123-456"))
	assertPrecondition(t, err, "token")

	// Sin certificado
	integration.TokenStaging = "staging-token"
	f.integrations.Upsert(integration)
	_, err = f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-123-456"))
	assertPrecondition(t, err, "certificate must be uploaded")
}

func TestProvisionCompanyRejectsExpiredCertificate(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)

	f.certs.Replace(&models.FiscalCertificate{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Provider:  models.ProviderName,
		Status:    models.CertificateStatusValid,
		NotBefore: time.Now().Add(-48 * time.Hour),
		NotAfter:  time.Now().Add(-time.Hour),
		TaxID:     "8-123-456",
	})

	_, err := f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-123-456"))
	assertPrecondition(t, err, "expired")
}

func TestProvisionCompanyRejectsTaxIDMismatch(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	_, err := f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-999-999"))
	assertPrecondition(t, err, "tax id")
}

func TestProvisionCompanyStoresGatewayIdentifiers(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	f.gateway.provisionFn = func(creds pac.Credentials, data *models.ProvisionCompanyRequest) (*pac.ProvisionResult, error) {
		return &pac.ProvisionResult{EntityID: "ent-42", TokenStaging: "pst", TokenProduction: "ppt"}, nil
	}

	resp, err := f.orchestrator.ProvisionCompany(context.Background(), tenantID, provisionRequest("8-123-456"))
	require.NoError(t, err)
	assert.True(t, resp.Provisioned)
	assert.Equal(t, "ent-42", resp.ProviderEntityID)

	integration, _ := f.integrations.GetByTenant(tenantID)
	require.NotNil(t, integration.ProviderEntityID)
	assert.Equal(t, "ent-42", *integration.ProviderEntityID)
	assert.True(t, integration.IsProvisioned())
}

func TestIssueDocumentRequiresProvisionedCompany(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	integration := seedIntegration(f.integrations, tenantID)
	integration.ProviderEntityID = nil
	f.integrations.Upsert(integration)
	f.seedValidCertificate(tenantID, "8-123-456")

	_, err := f.orchestrator.IssueDocument(context.Background(), tenantID, issueRequest(models.DocumentTypeRetailReceipt))
	assertPrecondition(t, err, "provisioned")
}

func TestIssueDocumentRequiresUploadedCertificate(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)

	req := issueRequest(models.DocumentTypeRetailReceipt)
	_, err := f.orchestrator.IssueDocument(context.Background(), tenantID, req)
	assertPrecondition(t, err, "certificate must be uploaded")

	stored, err := f.docs.GetByRef(tenantID, req.Ref)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestIssueDocumentRejectsExpiredCertificate(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)

	// Certificado que venció después de aprovisionar
	f.certs.Replace(&models.FiscalCertificate{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Provider:  models.ProviderName,
		Status:    models.CertificateStatusValid,
		NotBefore: time.Now().Add(-48 * time.Hour),
		NotAfter:  time.Now().Add(-24 * time.Hour),
		TaxID:     "8-123-456",
	})

	req := issueRequest(models.DocumentTypeRetailReceipt)
	req.Ref = "R-EXP"
	_, err := f.orchestrator.IssueDocument(context.Background(), tenantID, req)
	assertPrecondition(t, err, "expired")

	// Sin efectos parciales: ningún registro en el ledger
	stored, err := f.docs.GetByRef(tenantID, "R-EXP")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, 0, f.gateway.submitCalls)
}

func TestIssueDocumentValidatesPerTypePayload(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)

	tests := []struct {
		name  string
		req   *models.IssueDocumentRequest
		field string
	}{
		{
			name: "merchandise invoice without recipient",
			req: &models.IssueDocumentRequest{
				DocumentType: models.DocumentTypeMerchandiseInvoice,
				Items:        []models.LineItemRequest{{Description: "x", Quantity: 1, UnitPrice: 1}},
				Payment:      &models.PaymentRequest{Amount: 1},
			},
			field: "recipient",
		},
		{
			name: "merchandise invoice without recipient tax id",
			req: &models.IssueDocumentRequest{
				DocumentType: models.DocumentTypeMerchandiseInvoice,
				Recipient:    &models.RecipientRequest{Name: "Cliente"},
				Items:        []models.LineItemRequest{{Description: "x", Quantity: 1, UnitPrice: 1}},
				Payment:      &models.PaymentRequest{Amount: 1},
			},
			field: "recipient.tax_id",
		},
		{
			name: "retail receipt without items",
			req: &models.IssueDocumentRequest{
				DocumentType: models.DocumentTypeRetailReceipt,
				Payment:      &models.PaymentRequest{Amount: 1},
			},
			field: "items",
		},
		{
			name: "service invoice without service detail",
			req: &models.IssueDocumentRequest{
				DocumentType: models.DocumentTypeServiceInvoice,
				Recipient:    &models.RecipientRequest{Name: "Cliente"},
			},
			field: "service",
		},
		{
			name: "unknown document type",
			req:  &models.IssueDocumentRequest{DocumentType: "credit_note"},
			field: "document_type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orchestrator.IssueDocument(context.Background(), tenantID, tc.req)
			var validation *models.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tc.field, validation.Field)
		})
	}

	// Nada quedó persistido por requests inválidos
	_, total, err := f.docs.ListByTenant(tenantID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestIssueDocumentSubmitsEachType(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	types := []models.DocumentType{
		models.DocumentTypeMerchandiseInvoice,
		models.DocumentTypeRetailReceipt,
		models.DocumentTypeServiceInvoice,
		models.DocumentTypeServiceInvoiceNational,
	}

	for i, docType := range types {
		req := issueRequest(docType)
		req.Ref = uuid.NewString()
		resp, err := f.orchestrator.IssueDocument(context.Background(), tenantID, req)
		require.NoError(t, err, "type %s", docType)
		assert.Equal(t, models.DocumentStatusProcessing, resp.Status)
		assert.Equal(t, docType, resp.DocumentType)
		assert.Equal(t, i+1, f.gateway.submitCalls)
	}
}

func TestIssueDocumentPayloadRoundTrips(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	req := issueRequest(models.DocumentTypeMerchandiseInvoice)
	resp, err := f.orchestrator.IssueDocument(context.Background(), tenantID, req)
	require.NoError(t, err)

	stored, err := f.docs.GetByRef(tenantID, resp.Ref)
	require.NoError(t, err)

	var decoded models.IssueDocumentRequest
	require.NoError(t, json.Unmarshal(stored.Payload, &decoded))
	assert.Equal(t, req.Recipient.TaxID, decoded.Recipient.TaxID)
	assert.Len(t, decoded.Items, 1)
}

func TestIssueDocumentReturnsPersistedDocOnRejection(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	f.gateway.submitFn = func(creds pac.Credentials, docType models.DocumentType, ref string, payload json.RawMessage) (*pac.SubmissionAck, error) {
		return nil, &models.ProviderRejectedError{StatusCode: 422, ProviderMessage: "monto fuera de rango"}
	}

	resp, err := f.orchestrator.IssueDocument(context.Background(), tenantID, issueRequest(models.DocumentTypeRetailReceipt))

	var rejected *models.ProviderRejectedError
	require.ErrorAs(t, err, &rejected)
	require.NotNil(t, resp)
	assert.Equal(t, models.DocumentStatusRejected, resp.Status)
}

func TestRefreshDocumentStatusAppliesOutcome(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	issued, err := f.orchestrator.IssueDocument(context.Background(), tenantID, issueRequest(models.DocumentTypeRetailReceipt))
	require.NoError(t, err)

	f.gateway.queryFn = func(creds pac.Credentials, ref string) (*pac.DocumentStatus, error) {
		return &pac.DocumentStatus{Ref: ref, Status: pac.StatusAuthorized, Number: "N-3"}, nil
	}

	refreshed, err := f.orchestrator.RefreshDocumentStatus(context.Background(), tenantID, issued.Ref)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusAuthorized, refreshed.Status)
	assert.Equal(t, "N-3", *refreshed.DocumentNumber)
}

func TestCancelDocumentFullFlow(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	issued, err := f.orchestrator.IssueDocument(context.Background(), tenantID, issueRequest(models.DocumentTypeRetailReceipt))
	require.NoError(t, err)

	f.gateway.queryFn = func(creds pac.Credentials, ref string) (*pac.DocumentStatus, error) {
		return &pac.DocumentStatus{Ref: ref, Status: pac.StatusAuthorized}, nil
	}
	_, err = f.orchestrator.RefreshDocumentStatus(context.Background(), tenantID, issued.Ref)
	require.NoError(t, err)

	cancelled, err := f.orchestrator.CancelDocument(context.Background(), tenantID, issued.Ref)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusCancelled, cancelled.Status)
}

func TestCancelDocumentMissingReturnsNil(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)

	resp, err := f.orchestrator.CancelDocument(context.Background(), tenantID, "no-such-ref")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestListDocumentsPaginates(t *testing.T) {
	f := newOrchestratorFixture()
	tenantID := uuid.New()
	seedIntegration(f.integrations, tenantID)
	f.seedValidCertificate(tenantID, "8-123-456")

	for i := 0; i < 5; i++ {
		req := issueRequest(models.DocumentTypeRetailReceipt)
		req.Ref = uuid.NewString()
		_, err := f.orchestrator.IssueDocument(context.Background(), tenantID, req)
		require.NoError(t, err)
	}

	page, err := f.orchestrator.ListDocuments(tenantID, 1, 3)
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 5, page.Total)

	page2, err := f.orchestrator.ListDocuments(tenantID, 2, 3)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
}

// hangingGateway se queda colgado en el envío hasta que el contexto
// del caller expira
type hangingGateway struct {
	fakeGateway
}

func (g *hangingGateway) SubmitDocument(ctx context.Context, creds pac.Credentials, docType models.DocumentType, ref string, payload json.RawMessage) (*pac.SubmissionAck, error) {
	<-ctx.Done()
	return nil, &models.ProviderUnavailableError{Attempts: 1, Err: ctx.Err()}
}

func TestIssueDocumentBoundsGatewayWait(t *testing.T) {
	docs := newFakeDocumentStore()
	integrations := newFakeIntegrationStore()
	certs := newFakeCertificateStore()
	storage := newFakeStorage()
	gateway := &hangingGateway{}
	logger := testLogger()

	integrationSvc := NewIntegrationService(integrations, logger)
	certSvc := NewCertificateService(certs, storage, integrations, logger)
	ledger := NewLedgerService(docs, gateway, logger)
	reconciler := NewReconcilerService(docs, integrations, ledger, gateway, nil, nil, reconcilerConfig(), logger)
	orchestrator := NewOrchestratorService(integrationSvc, certSvc, ledger, reconciler, integrations, gateway, 50*time.Millisecond, logger)

	tenantID := uuid.New()
	seedIntegration(integrations, tenantID)
	certs.Replace(&models.FiscalCertificate{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Provider:  models.ProviderName,
		Status:    models.CertificateStatusValid,
		NotBefore: time.Now().Add(-24 * time.Hour),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		TaxID:     "8-123-456",
	})

	start := time.Now()
	resp, err := orchestrator.IssueDocument(context.Background(), tenantID, issueRequest(models.DocumentTypeRetailReceipt))

	// El caller deja de esperar dentro del límite configurado
	assert.Less(t, time.Since(start), time.Second)

	var unavailable *models.ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)

	// El envío en vuelo no se marca como fallido: queda submitted para
	// que la reconciliación lo resuelva
	require.NotNil(t, resp)
	assert.Equal(t, models.DocumentStatusSubmitted, resp.Status)
}
