package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/hypernova-labs/fiscal-service/internal/pac"
	"github.com/sirupsen/logrus"
)

// testLogger retorna un logger silencioso para las pruebas
func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeDocumentStore implementa DocumentStore en memoria con la misma
// semántica que el repositorio real: CAS en las transiciones, ref único
// por tenant y artefactos inmutables
type fakeDocumentStore struct {
	mu   sync.Mutex
	docs map[uuid.UUID]models.FiscalDocument
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{docs: make(map[uuid.UUID]models.FiscalDocument)}
}

func (f *fakeDocumentStore) Create(doc *models.FiscalDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.TenantID == doc.TenantID && d.Ref == doc.Ref {
			return &models.DuplicateRefError{Ref: doc.Ref}
		}
	}
	f.docs[doc.ID] = *doc
	return nil
}

func (f *fakeDocumentStore) GetByID(id uuid.UUID) (*models.FiscalDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, &models.ValidationError{Issue: "document not found"}
	}
	copy := d
	return &copy, nil
}

func (f *fakeDocumentStore) GetByRef(tenantID uuid.UUID, ref string) (*models.FiscalDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.TenantID == tenantID && d.Ref == ref {
			copy := d
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeDocumentStore) TransitionStatus(id uuid.UUID, from, to models.DocumentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	f.docs[id] = d
	return true, nil
}

func (f *fakeDocumentStore) SetAuthorizationArtifacts(id uuid.UUID, number, series, accessKey, pdfURL, xmlURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.DocumentNumber != nil {
		return nil
	}
	d.DocumentNumber = &number
	d.Series = &series
	d.AccessKey = &accessKey
	d.PDFURL = &pdfURL
	d.XMLURL = &xmlURL
	d.UpdatedAt = time.Now()
	f.docs[id] = d
	return nil
}

func (f *fakeDocumentStore) SetProviderMessage(id uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil
	}
	d.ProviderMessage = &message
	f.docs[id] = d
	return nil
}

func (f *fakeDocumentStore) Resubmit(id uuid.UUID, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Status != models.DocumentStatusError {
		return false, nil
	}
	d.Status = models.DocumentStatusSubmitted
	d.Payload = payload
	d.UpdatedAt = time.Now()
	f.docs[id] = d
	return true, nil
}

func (f *fakeDocumentStore) ListPending(updatedBefore time.Time, limit int) ([]models.FiscalDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []models.FiscalDocument
	for _, d := range f.docs {
		if d.Status.IsPending() && d.UpdatedAt.Before(updatedBefore) {
			pending = append(pending, d)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].UpdatedAt.Before(pending[j].UpdatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeDocumentStore) ListByTenant(tenantID uuid.UUID, page, pageSize int) ([]models.FiscalDocument, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.FiscalDocument
	for _, d := range f.docs {
		if d.TenantID == tenantID {
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// fakeIntegrationStore implementa IntegrationStore en memoria
type fakeIntegrationStore struct {
	mu           sync.Mutex
	integrations map[uuid.UUID]models.FiscalIntegration
}

func newFakeIntegrationStore() *fakeIntegrationStore {
	return &fakeIntegrationStore{integrations: make(map[uuid.UUID]models.FiscalIntegration)}
}

func (f *fakeIntegrationStore) GetByTenant(tenantID uuid.UUID) (*models.FiscalIntegration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.integrations[tenantID]
	if !ok {
		return nil, nil
	}
	copy := i
	return &copy, nil
}

func (f *fakeIntegrationStore) Upsert(integration *models.FiscalIntegration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integrations[integration.TenantID] = *integration
	return nil
}

func (f *fakeIntegrationStore) SetCertificateInfo(tenantID uuid.UUID, notBefore, notAfter time.Time, taxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.integrations[tenantID]
	if !ok {
		return nil
	}
	i.CertNotBefore = &notBefore
	i.CertNotAfter = &notAfter
	i.CertTaxID = &taxID
	f.integrations[tenantID] = i
	return nil
}

func (f *fakeIntegrationStore) SetProvisioningResult(tenantID uuid.UUID, entityID, tokenStaging, tokenProduction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.integrations[tenantID]
	if !ok {
		return nil
	}
	i.ProviderEntityID = &entityID
	i.ProviderTokenStaging = &tokenStaging
	i.ProviderTokenProduction = &tokenProduction
	f.integrations[tenantID] = i
	return nil
}

// fakeCertificateStore implementa CertificateStore en memoria
type fakeCertificateStore struct {
	mu         sync.Mutex
	certs      map[uuid.UUID]models.FiscalCertificate
	replaceErr error
}

func newFakeCertificateStore() *fakeCertificateStore {
	return &fakeCertificateStore{certs: make(map[uuid.UUID]models.FiscalCertificate)}
}

func (f *fakeCertificateStore) GetByTenant(tenantID uuid.UUID) (*models.FiscalCertificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[tenantID]
	if !ok {
		return nil, nil
	}
	copy := c
	return &copy, nil
}

func (f *fakeCertificateStore) Replace(cert *models.FiscalCertificate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.certs[cert.TenantID] = *cert
	return nil
}

func (f *fakeCertificateStore) UpdateStatus(tenantID uuid.UUID, status models.CertificateStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[tenantID]
	if !ok {
		return nil
	}
	c.Status = status
	f.certs[tenantID] = c
	return nil
}

// fakeStorage implementa ContainerStorage en memoria
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key], nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

// fakeGateway implementa GatewayClient con comportamientos inyectables
type fakeGateway struct {
	mu sync.Mutex

	provisionFn func(creds pac.Credentials, data *models.ProvisionCompanyRequest) (*pac.ProvisionResult, error)
	submitFn    func(creds pac.Credentials, docType models.DocumentType, ref string, payload json.RawMessage) (*pac.SubmissionAck, error)
	queryFn     func(creds pac.Credentials, ref string) (*pac.DocumentStatus, error)
	cancelFn    func(creds pac.Credentials, ref string) (*pac.DocumentStatus, error)

	submitCalls int
	queryCalls  int
	cancelCalls int
	lastCreds   pac.Credentials
}

func (f *fakeGateway) ProvisionEntity(ctx context.Context, creds pac.Credentials, data *models.ProvisionCompanyRequest) (*pac.ProvisionResult, error) {
	f.mu.Lock()
	f.lastCreds = creds
	f.mu.Unlock()
	if f.provisionFn != nil {
		return f.provisionFn(creds, data)
	}
	return &pac.ProvisionResult{EntityID: "entity-1", TokenStaging: "st", TokenProduction: "pt"}, nil
}

func (f *fakeGateway) SubmitDocument(ctx context.Context, creds pac.Credentials, docType models.DocumentType, ref string, payload json.RawMessage) (*pac.SubmissionAck, error) {
	f.mu.Lock()
	f.submitCalls++
	f.lastCreds = creds
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(creds, docType, ref, payload)
	}
	return &pac.SubmissionAck{Ref: ref, Protocol: "proto-1", Status: pac.StatusProcessing}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, creds pac.Credentials, ref string) (*pac.DocumentStatus, error) {
	f.mu.Lock()
	f.queryCalls++
	f.lastCreds = creds
	f.mu.Unlock()
	if f.queryFn != nil {
		return f.queryFn(creds, ref)
	}
	return &pac.DocumentStatus{Ref: ref, Status: pac.StatusProcessing}, nil
}

func (f *fakeGateway) CancelDocument(ctx context.Context, creds pac.Credentials, ref string) (*pac.DocumentStatus, error) {
	f.mu.Lock()
	f.cancelCalls++
	f.lastCreds = creds
	f.mu.Unlock()
	if f.cancelFn != nil {
		return f.cancelFn(creds, ref)
	}
	return &pac.DocumentStatus{Ref: ref, Status: pac.StatusCancelled}, nil
}

// fakeNotifier captura los correos de desenlace enviados
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
}

type sentEmail struct {
	to  string
	doc models.FiscalDocument
}

func (f *fakeNotifier) SendOutcomeEmail(to string, doc *models.FiscalDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{to: to, doc: *doc})
	return nil
}

// fakeLeases implementa LeaseStore; las claves en denied se reportan
// tomadas por otra instancia
type fakeLeases struct {
	mu       sync.Mutex
	denied   map[string]bool
	acquired []string
	released []string
}

func newFakeLeases() *fakeLeases {
	return &fakeLeases{denied: make(map[string]bool)}
}

func (f *fakeLeases) AcquireLease(key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[key] {
		return false, nil
	}
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeLeases) ReleaseLease(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, key)
	return nil
}

// seedIntegration arma una integración lista para emitir
func seedIntegration(store *fakeIntegrationStore, tenantID uuid.UUID) *models.FiscalIntegration {
	entityID := "entity-1"
	integration := &models.FiscalIntegration{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Provider:         models.ProviderName,
		Environment:      models.EnvironmentStaging,
		Enabled:          true,
		TokenStaging:     "staging-token",
		TokenProduction:  "production-token",
		ProviderEntityID: &entityID,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	store.Upsert(integration)
	return integration
}
