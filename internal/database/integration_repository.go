package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
)

// IntegrationRepository maneja las operaciones de base de datos para
// FiscalIntegration. Una fila por tenant; nunca se borra.
type IntegrationRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewIntegrationRepository crea una nueva instancia del repositorio
func NewIntegrationRepository(db *DB, logger *logrus.Logger) *IntegrationRepository {
	return &IntegrationRepository{
		db:     db,
		logger: logger,
	}
}

const integrationColumns = `
	id, tenant_id, provider, environment, enabled,
	token_staging, token_production, notify_email,
	cert_not_before, cert_not_after, cert_tax_id,
	provider_entity_id, provider_token_staging, provider_token_production,
	created_at, updated_at
`

// scanIntegration escanea una fila de fiscal_integrations
func scanIntegration(row interface{ Scan(...interface{}) error }) (*models.FiscalIntegration, error) {
	var i models.FiscalIntegration
	err := row.Scan(
		&i.ID, &i.TenantID, &i.Provider, &i.Environment, &i.Enabled,
		&i.TokenStaging, &i.TokenProduction, &i.NotifyEmail,
		&i.CertNotBefore, &i.CertNotAfter, &i.CertTaxID,
		&i.ProviderEntityID, &i.ProviderTokenStaging, &i.ProviderTokenProduction,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// GetByTenant obtiene la integración de un tenant, o nil si no existe
func (r *IntegrationRepository) GetByTenant(tenantID uuid.UUID) (*models.FiscalIntegration, error) {
	query := fmt.Sprintf(`SELECT %s FROM fiscal_integrations WHERE tenant_id = $1`, integrationColumns)

	integration, err := scanIntegration(r.db.QueryRowWithTimeout(query, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying integration: %w", err)
	}

	return integration, nil
}

// Upsert crea o actualiza la integración de un tenant. Los tokens se
// sobrescriben, nunca se acumulan; un token vacío en el modelo ya debe
// traer el valor previo resuelto por el servicio.
func (r *IntegrationRepository) Upsert(integration *models.FiscalIntegration) error {
	query := `
		INSERT INTO fiscal_integrations (
			id, tenant_id, provider, environment, enabled,
			token_staging, token_production, notify_email, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (tenant_id) DO UPDATE SET
			environment = EXCLUDED.environment,
			enabled = EXCLUDED.enabled,
			token_staging = EXCLUDED.token_staging,
			token_production = EXCLUDED.token_production,
			notify_email = EXCLUDED.notify_email,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecWithTimeout(query,
		integration.ID, integration.TenantID, integration.Provider,
		integration.Environment, integration.Enabled,
		integration.TokenStaging, integration.TokenProduction, integration.NotifyEmail,
		integration.CreatedAt, integration.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error upserting integration: %w", err)
	}

	return nil
}

// SetCertificateInfo actualiza los campos desnormalizados del certificado
func (r *IntegrationRepository) SetCertificateInfo(tenantID uuid.UUID, notBefore, notAfter time.Time, taxID string) error {
	query := `
		UPDATE fiscal_integrations
		SET cert_not_before = $1, cert_not_after = $2, cert_tax_id = $3, updated_at = $4
		WHERE tenant_id = $5
	`

	result, err := r.db.ExecWithTimeout(query, notBefore, notAfter, taxID, time.Now(), tenantID)
	if err != nil {
		return fmt.Errorf("error updating certificate info: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("integration not found for tenant: %s", tenantID)
	}

	return nil
}

// SetProvisioningResult guarda los identificadores emitidos por el gateway
func (r *IntegrationRepository) SetProvisioningResult(tenantID uuid.UUID, entityID, tokenStaging, tokenProduction string) error {
	query := `
		UPDATE fiscal_integrations
		SET provider_entity_id = $1, provider_token_staging = $2,
			provider_token_production = $3, updated_at = $4
		WHERE tenant_id = $5
	`

	result, err := r.db.ExecWithTimeout(query, entityID, tokenStaging, tokenProduction, time.Now(), tenantID)
	if err != nil {
		return fmt.Errorf("error saving provisioning result: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("integration not found for tenant: %s", tenantID)
	}

	return nil
}
