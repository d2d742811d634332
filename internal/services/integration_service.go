package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
)

// IntegrationService maneja las credenciales de integración fiscal por
// tenant. Escribir un token sobrescribe el anterior; un token vacío
// conserva el guardado, para poder cambiar ambiente o enabled sin
// reingresar el secreto.
type IntegrationService struct {
	store  IntegrationStore
	logger *logrus.Logger
}

// NewIntegrationService crea una nueva instancia del servicio
func NewIntegrationService(store IntegrationStore, logger *logrus.Logger) *IntegrationService {
	return &IntegrationService{
		store:  store,
		logger: logger,
	}
}

// Configure crea o actualiza la integración de un tenant
func (s *IntegrationService) Configure(tenantID uuid.UUID, req *models.ConfigureIntegrationRequest) (*models.IntegrationResponse, error) {
	if !req.Environment.IsValid() {
		return nil, models.NewValidationFieldError("environment", "must be staging or production")
	}

	existing, err := s.store.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading integration: %w", err)
	}

	now := time.Now()
	integration := existing
	if integration == nil {
		integration = &models.FiscalIntegration{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Provider:  models.ProviderName,
			CreatedAt: now,
		}
	}

	integration.Environment = req.Environment
	integration.Enabled = req.Enabled
	integration.UpdatedAt = now

	if req.NotifyEmail != nil {
		integration.NotifyEmail = req.NotifyEmail
	}

	// Token vacío: se conserva el token previo del ambiente
	if req.Token != "" {
		if req.Environment == models.EnvironmentProduction {
			integration.TokenProduction = req.Token
		} else {
			integration.TokenStaging = req.Token
		}
	}

	if err := s.store.Upsert(integration); err != nil {
		return nil, fmt.Errorf("error saving integration: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"environment": integration.Environment,
		"enabled":     integration.Enabled,
	}).Info("Integration configured")

	return models.NewIntegrationResponse(integration), nil
}

// Get obtiene la vista externa de la integración de un tenant, o nil
// si el tenant nunca configuró una
func (s *IntegrationService) Get(tenantID uuid.UUID) (*models.IntegrationResponse, error) {
	integration, err := s.store.GetByTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("error loading integration: %w", err)
	}
	if integration == nil {
		return nil, nil
	}

	return models.NewIntegrationResponse(integration), nil
}
