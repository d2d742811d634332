package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
)

// CertificateRepository maneja las operaciones de base de datos para
// FiscalCertificate. Un certificado activo por tenant: subir de nuevo
// reemplaza, no acumula.
type CertificateRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewCertificateRepository crea una nueva instancia del repositorio
func NewCertificateRepository(db *DB, logger *logrus.Logger) *CertificateRepository {
	return &CertificateRepository{
		db:     db,
		logger: logger,
	}
}

// GetByTenant obtiene el certificado activo de un tenant, o nil si no hay
func (r *CertificateRepository) GetByTenant(tenantID uuid.UUID) (*models.FiscalCertificate, error) {
	query := `
		SELECT id, tenant_id, provider, storage_key, filename, content_type,
			   size_bytes, status, not_before, not_after, tax_id, created_at, updated_at
		FROM fiscal_certificates
		WHERE tenant_id = $1
	`

	var c models.FiscalCertificate
	err := r.db.QueryRowWithTimeout(query, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Provider, &c.StorageKey, &c.Filename, &c.ContentType,
		&c.SizeBytes, &c.Status, &c.NotBefore, &c.NotAfter, &c.TaxID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying certificate: %w", err)
	}

	return &c, nil
}

// Replace guarda el certificado de un tenant reemplazando cualquier
// certificado anterior
func (r *CertificateRepository) Replace(cert *models.FiscalCertificate) error {
	query := `
		INSERT INTO fiscal_certificates (
			id, tenant_id, provider, storage_key, filename, content_type,
			size_bytes, status, not_before, not_after, tax_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (tenant_id) DO UPDATE SET
			id = EXCLUDED.id,
			storage_key = EXCLUDED.storage_key,
			filename = EXCLUDED.filename,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			status = EXCLUDED.status,
			not_before = EXCLUDED.not_before,
			not_after = EXCLUDED.not_after,
			tax_id = EXCLUDED.tax_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecWithTimeout(query,
		cert.ID, cert.TenantID, cert.Provider, cert.StorageKey, cert.Filename,
		cert.ContentType, cert.SizeBytes, cert.Status, cert.NotBefore, cert.NotAfter,
		cert.TaxID, cert.CreatedAt, cert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error replacing certificate: %w", err)
	}

	return nil
}

// UpdateStatus persiste un cambio de estado del certificado
func (r *CertificateRepository) UpdateStatus(tenantID uuid.UUID, status models.CertificateStatus) error {
	query := `
		UPDATE fiscal_certificates
		SET status = $1, updated_at = $2
		WHERE tenant_id = $3
	`

	result, err := r.db.ExecWithTimeout(query, status, time.Now(), tenantID)
	if err != nil {
		return fmt.Errorf("error updating certificate status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("certificate not found for tenant: %s", tenantID)
	}

	return nil
}
