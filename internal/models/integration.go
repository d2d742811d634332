package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderName es el único gateway fiscal soportado
const ProviderName = "pac"

// Environment representa el ambiente operativo del gateway
type Environment string

const (
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// IsValid indica si el ambiente es uno de los dos reconocidos
func (e Environment) IsValid() bool {
	return e == EnvironmentStaging || e == EnvironmentProduction
}

// FiscalIntegration representa la integración fiscal de un tenant.
// Hay a lo sumo un registro por tenant; nunca se borra, sólo se
// deshabilita vía Enabled.
type FiscalIntegration struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	TenantID    uuid.UUID   `json:"tenant_id" db:"tenant_id"`
	Provider    string      `json:"provider" db:"provider"`
	Environment Environment `json:"environment" db:"environment"`
	Enabled     bool        `json:"enabled" db:"enabled"`

	// Tokens del tenant por ambiente. Nunca viajan en respuestas.
	TokenStaging    string `json:"-" db:"token_staging"`
	TokenProduction string `json:"-" db:"token_production"`

	// Correo opcional del operador para notificaciones de desenlace
	NotifyEmail *string `json:"notify_email,omitempty" db:"notify_email"`

	// Campos derivados del certificado, desnormalizados para listados
	CertNotBefore *time.Time `json:"cert_not_before,omitempty" db:"cert_not_before"`
	CertNotAfter  *time.Time `json:"cert_not_after,omitempty" db:"cert_not_after"`
	CertTaxID     *string    `json:"cert_tax_id,omitempty" db:"cert_tax_id"`

	// Identificadores emitidos por el gateway al aprovisionar la empresa
	ProviderEntityID        *string `json:"provider_entity_id,omitempty" db:"provider_entity_id"`
	ProviderTokenStaging    *string `json:"-" db:"provider_token_staging"`
	ProviderTokenProduction *string `json:"-" db:"provider_token_production"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenFor retorna el token del tenant para un ambiente dado
func (i *FiscalIntegration) TokenFor(env Environment) string {
	if env == EnvironmentProduction {
		return i.TokenProduction
	}
	return i.TokenStaging
}

// IsProvisioned indica si el gateway ya registró la empresa del tenant.
// La completitud del aprovisionamiento se deriva de la presencia del
// identificador de entidad, no de un flag aparte.
func (i *FiscalIntegration) IsProvisioned() bool {
	return i.ProviderEntityID != nil && *i.ProviderEntityID != ""
}

// ConfigureIntegrationRequest representa el request para configurar la integración.
// Un token vacío conserva el token ya almacenado para ese ambiente.
type ConfigureIntegrationRequest struct {
	Environment Environment `json:"environment" binding:"required"`
	Token       string      `json:"token,omitempty"`
	Enabled     bool        `json:"enabled"`
	NotifyEmail *string     `json:"notify_email,omitempty"`
}

// IntegrationResponse representa la integración hacia afuera.
// Los tokens nunca se devuelven; sólo un indicador de presencia.
type IntegrationResponse struct {
	TenantID         uuid.UUID   `json:"tenant_id"`
	Provider         string      `json:"provider"`
	Environment      Environment `json:"environment"`
	Enabled          bool        `json:"enabled"`
	TokenPresent     bool        `json:"token_present"`
	Provisioned      bool        `json:"provisioned"`
	ProviderEntityID *string     `json:"provider_entity_id,omitempty"`
	CertNotBefore    *time.Time  `json:"cert_not_before,omitempty"`
	CertNotAfter     *time.Time  `json:"cert_not_after,omitempty"`
	CertTaxID        *string     `json:"cert_tax_id,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewIntegrationResponse construye la vista externa de una integración
func NewIntegrationResponse(i *FiscalIntegration) *IntegrationResponse {
	return &IntegrationResponse{
		TenantID:         i.TenantID,
		Provider:         i.Provider,
		Environment:      i.Environment,
		Enabled:          i.Enabled,
		TokenPresent:     i.TokenFor(i.Environment) != "",
		Provisioned:      i.IsProvisioned(),
		ProviderEntityID: i.ProviderEntityID,
		CertNotBefore:    i.CertNotBefore,
		CertNotAfter:     i.CertNotAfter,
		CertTaxID:        i.CertTaxID,
		UpdatedAt:        i.UpdatedAt,
	}
}

// ProvisionCompanyRequest representa los datos legales de la empresa
// que se registran ante el gateway. La identidad llega resuelta desde
// la capa de aplicación.
type ProvisionCompanyRequest struct {
	LegalName  string  `json:"legal_name" binding:"required"`
	TradeName  *string `json:"trade_name,omitempty"`
	TaxID      string  `json:"tax_id" binding:"required"`
	Email      string  `json:"email" binding:"required,email"`
	Phone      *string `json:"phone,omitempty"`
	Address    *string `json:"address,omitempty"`
	CityCode   *string `json:"city_code,omitempty"`
	StateCode  *string `json:"state_code,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
}

// ProvisionCompanyResponse representa el resultado del aprovisionamiento
type ProvisionCompanyResponse struct {
	ProviderEntityID string `json:"provider_entity_id"`
	Provisioned      bool   `json:"provisioned"`
}
