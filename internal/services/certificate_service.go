package services

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pkcs12"
)

// CertificateService maneja el ciclo de vida del certificado digital de
// un tenant: valida el contenedor, extrae vigencia y tax id, guarda el
// archivo en storage y reemplaza el certificado anterior.
type CertificateService struct {
	store        CertificateStore
	storage      ContainerStorage
	integrations IntegrationStore
	logger       *logrus.Logger

	// decode se reemplaza en pruebas para no depender de un PKCS#12 real
	decode func(data []byte, password string) (*x509.Certificate, error)
}

// NewCertificateService crea una nueva instancia del servicio
func NewCertificateService(store CertificateStore, storage ContainerStorage, integrations IntegrationStore, logger *logrus.Logger) *CertificateService {
	return &CertificateService{
		store:        store,
		storage:      storage,
		integrations: integrations,
		logger:       logger,
		decode:       decodeCertificateContainer,
	}
}

// decodeCertificateContainer descifra el contenedor PKCS#12 y retorna
// el certificado. Una contraseña incorrecta y un archivo malformado se
// distinguen por el tipo de error.
func decodeCertificateContainer(data []byte, password string) (*x509.Certificate, error) {
	_, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
			return nil, &models.InvalidCertificateError{Reason: "container could not be decrypted with the given password"}
		}
		return nil, &models.MalformedCertificateError{Reason: err.Error()}
	}
	return cert, nil
}

// extractTaxID extrae el tax id del sujeto del certificado. Los
// certificados de firma empresarial lo llevan en el SerialNumber del
// subject o como sufijo del CN tras ":".
func extractTaxID(cert *x509.Certificate) string {
	if cert.Subject.SerialNumber != "" {
		return cert.Subject.SerialNumber
	}
	if idx := strings.LastIndex(cert.Subject.CommonName, ":"); idx >= 0 {
		return cert.Subject.CommonName[idx+1:]
	}
	return ""
}

// Upload valida y guarda el certificado de un tenant, reemplazando el
// anterior. Nada se persiste si la validación falla.
func (s *CertificateService) Upload(ctx context.Context, tenantID uuid.UUID, filename, contentType string, data []byte, password string) (*models.CertificateResponse, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pfx" && ext != ".p12" {
		return nil, models.NewValidationFieldError("certificate", "file must be a .pfx or .p12 container")
	}
	if password == "" {
		return nil, models.NewValidationFieldError("password", "password is required")
	}
	if len(data) == 0 {
		return nil, models.NewValidationFieldError("certificate", "file is empty")
	}

	cert, err := s.decode(data, password)
	if err != nil {
		return nil, err
	}

	taxID := extractTaxID(cert)
	if taxID == "" {
		return nil, &models.MalformedCertificateError{Reason: "subject tax id not present in certificate"}
	}

	now := time.Now()
	status := models.CertificateStatusValid
	if now.After(cert.NotAfter) {
		status = models.CertificateStatusExpired
	}

	if s.storage == nil {
		return nil, fmt.Errorf("certificate storage not configured")
	}

	prior, err := s.store.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading previous certificate: %w", err)
	}

	storageKey := fmt.Sprintf("certificates/%s/%s%s", tenantID, uuid.New(), ext)
	if err := s.storage.Put(ctx, storageKey, data, contentType); err != nil {
		return nil, fmt.Errorf("error storing certificate container: %w", err)
	}

	record := &models.FiscalCertificate{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Provider:    models.ProviderName,
		StorageKey:  storageKey,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Status:      status,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		TaxID:       taxID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Replace(record); err != nil {
		// El objeto recién subido quedaría huérfano sin registro que lo
		// apunte; limpieza best-effort
		if derr := s.storage.Delete(ctx, storageKey); derr != nil {
			s.logger.Warnf("Error deleting orphaned certificate container %s: %v", storageKey, derr)
		}
		return nil, fmt.Errorf("error saving certificate: %w", err)
	}

	if prior != nil && prior.StorageKey != "" {
		if derr := s.storage.Delete(ctx, prior.StorageKey); derr != nil {
			s.logger.Warnf("Error deleting replaced certificate container %s: %v", prior.StorageKey, derr)
		}
	}

	// Campos desnormalizados en la integración, si existe
	if integration, err := s.integrations.GetByTenant(tenantID); err == nil && integration != nil {
		if err := s.integrations.SetCertificateInfo(tenantID, cert.NotBefore, cert.NotAfter, taxID); err != nil {
			s.logger.Warnf("Error denormalizing certificate info for tenant %s: %v", tenantID, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"filename":  filename,
		"not_after": cert.NotAfter,
		"tax_id":    taxID,
	}).Info("Certificate uploaded")

	return models.NewCertificateResponse(record, now), nil
}

// Get obtiene el certificado de un tenant recalculando el vencimiento
// contra el reloj. El estado expired se persiste de forma perezosa.
func (s *CertificateService) Get(tenantID uuid.UUID) (*models.CertificateResponse, error) {
	cert, err := s.store.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading certificate: %w", err)
	}
	if cert == nil {
		return nil, nil
	}

	now := time.Now()
	if cert.Status == models.CertificateStatusValid && cert.EffectiveStatus(now) == models.CertificateStatusExpired {
		if err := s.store.UpdateStatus(tenantID, models.CertificateStatusExpired); err != nil {
			s.logger.Warnf("Error persisting expired status for tenant %s: %v", tenantID, err)
		}
	}

	return models.NewCertificateResponse(cert, now), nil
}

// GetRecord obtiene el registro interno del certificado, para los
// chequeos de precondición del orquestador
func (s *CertificateService) GetRecord(tenantID uuid.UUID) (*models.FiscalCertificate, error) {
	cert, err := s.store.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading certificate: %w", err)
	}
	return cert, nil
}
