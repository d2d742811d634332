package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/config"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
)

// OutcomeNotifier envía la notificación de desenlace de un documento
type OutcomeNotifier interface {
	SendOutcomeEmail(to string, doc *models.FiscalDocument) error
}

// LeaseStore reparte documentos entre instancias del reconciliador.
// *database.Redis lo implementa; con nil cada instancia barre todo.
type LeaseStore interface {
	AcquireLease(key string, ttl time.Duration) (bool, error)
	ReleaseLease(key string) error
}

// ReconcilerService cierra la brecha entre el estado local y el del
// proveedor: barre periódicamente los documentos en submitted o
// processing, consulta el gateway y aplica el desenlace vía el ledger.
// Nunca reenvía un documento; sólo observa y transiciona.
type ReconcilerService struct {
	docs         DocumentStore
	integrations IntegrationStore
	ledger       *LedgerService
	gateway      GatewayClient
	leases       LeaseStore
	notifier     OutcomeNotifier
	cfg          config.ReconcilerConfig
	logger       *logrus.Logger

	softFailures atomic.Int64
	passes       atomic.Int64
}

// NewReconcilerService crea una nueva instancia del reconciliador.
// leases y notifier pueden ser nil.
func NewReconcilerService(docs DocumentStore, integrations IntegrationStore, ledger *LedgerService, gateway GatewayClient, leases LeaseStore, notifier OutcomeNotifier, cfg config.ReconcilerConfig, logger *logrus.Logger) *ReconcilerService {
	return &ReconcilerService{
		docs:         docs,
		integrations: integrations,
		ledger:       ledger,
		gateway:      gateway,
		leases:       leases,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger,
	}
}

// Run ejecuta el barrido en intervalos fijos hasta que el contexto se
// cancele. Pensado para correr en su propia goroutine desde main.
func (s *ReconcilerService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval":   s.cfg.Interval,
		"debounce":   s.cfg.Debounce,
		"batch_size": s.cfg.BatchSize,
	}).Info("Reconciler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			if err := s.RunPass(ctx); err != nil {
				s.logger.Errorf("Reconcile pass failed: %v", err)
			}
		}
	}
}

// RunPass ejecuta un barrido completo. El debounce deja fuera los
// documentos recién tocados: el que acaba de enviarse aún no tiene un
// desenlace que valga la pena consultar.
func (s *ReconcilerService) RunPass(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.Debounce)

	pending, err := s.docs.ListPending(cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("error listing pending documents: %w", err)
	}

	s.passes.Add(1)

	if len(pending) == 0 {
		return nil
	}

	// Las integraciones se resuelven una vez por tenant por pasada
	integrationCache := make(map[uuid.UUID]*models.FiscalIntegration)

	reconciled := 0
	for i := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc := &pending[i]

		integration, ok := integrationCache[doc.TenantID]
		if !ok {
			integration, err = s.integrations.GetByTenant(doc.TenantID)
			if err != nil {
				s.logger.Errorf("Error loading integration for tenant %s: %v", doc.TenantID, err)
				continue
			}
			integrationCache[doc.TenantID] = integration
		}
		if integration == nil {
			s.logger.Warnf("Pending document %s has no integration, skipping", doc.ID)
			continue
		}

		changed, err := s.reconcileOne(ctx, integration, doc)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"document_id": doc.ID,
				"tenant_id":   doc.TenantID,
			}).Errorf("Error reconciling document: %v", err)
			continue
		}
		if changed {
			reconciled++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"pending":    len(pending),
		"reconciled": reconciled,
	}).Info("Reconcile pass finished")

	return nil
}

// reconcileOne consulta el desenlace de un documento y lo aplica. La
// indisponibilidad del proveedor es un fallo blando: el documento queda
// como está y la siguiente pasada lo reintenta.
func (s *ReconcilerService) reconcileOne(ctx context.Context, integration *models.FiscalIntegration, doc *models.FiscalDocument) (bool, error) {
	if s.leases != nil {
		acquired, err := s.leases.AcquireLease("reconcile:"+doc.ID.String(), s.cfg.DocumentTimeout)
		if err != nil {
			s.logger.Warnf("Error acquiring lease for document %s: %v", doc.ID, err)
		} else if !acquired {
			// Otra instancia lo tiene
			return false, nil
		} else {
			defer func() {
				if err := s.leases.ReleaseLease("reconcile:" + doc.ID.String()); err != nil {
					s.logger.Warnf("Error releasing lease for document %s: %v", doc.ID, err)
				}
			}()
		}
	}

	docCtx, cancel := context.WithTimeout(ctx, s.cfg.DocumentTimeout)
	defer cancel()

	// Se consulta con el token del ambiente en que se emitió el
	// documento, no con el ambiente actual de la integración
	status, err := s.gateway.QueryStatus(docCtx, credsFor(integration, doc.Environment), doc.Ref)
	if err != nil {
		var unavailable *models.ProviderUnavailableError
		if errors.As(err, &unavailable) || errors.Is(err, context.DeadlineExceeded) {
			s.softFailures.Add(1)
			s.logger.WithFields(logrus.Fields{
				"document_id": doc.ID,
				"ref":         doc.Ref,
			}).Warn("Provider unavailable during reconcile, will retry next pass")
			return false, nil
		}
		return false, err
	}

	changed, current, err := s.ledger.ApplyProviderStatus(doc.ID, status)
	if err != nil {
		return false, err
	}

	if changed && current.Status.IsTerminal() {
		s.notifyOutcome(integration, current)
	}

	return changed, nil
}

// ReconcileDocument fuerza la reconciliación de un documento puntual,
// por fuera del ciclo del barrido. Es el camino del refresh manual.
func (s *ReconcilerService) ReconcileDocument(ctx context.Context, tenantID uuid.UUID, ref string) (*models.FiscalDocument, error) {
	doc, err := s.docs.GetByRef(tenantID, ref)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	// Los terminales no se consultan: su estado ya no cambia por esta vía
	if doc.Status.IsTerminal() {
		return doc, nil
	}
	if !doc.Status.IsPending() {
		return doc, nil
	}

	integration, err := s.integrations.GetByTenant(tenantID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &models.PreconditionFailedError{Precondition: "integration must be configured"}
	}

	status, err := s.gateway.QueryStatus(ctx, credsFor(integration, doc.Environment), doc.Ref)
	if err != nil {
		return nil, err
	}

	changed, current, err := s.ledger.ApplyProviderStatus(doc.ID, status)
	if err != nil {
		return nil, err
	}

	if changed && current.Status.IsTerminal() {
		s.notifyOutcome(integration, current)
	}

	return current, nil
}

// notifyOutcome envía el correo de desenlace si el tenant configuró
// una dirección. El envío es best-effort: un fallo se registra y nada
// más, la transición ya quedó aplicada.
func (s *ReconcilerService) notifyOutcome(integration *models.FiscalIntegration, doc *models.FiscalDocument) {
	if s.notifier == nil || integration.NotifyEmail == nil || *integration.NotifyEmail == "" {
		return
	}
	if doc.Status != models.DocumentStatusAuthorized && doc.Status != models.DocumentStatusRejected {
		return
	}

	if err := s.notifier.SendOutcomeEmail(*integration.NotifyEmail, doc); err != nil {
		s.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"to":          *integration.NotifyEmail,
		}).Warnf("Error sending outcome email: %v", err)
	}
}

// SoftFailures retorna cuántas consultas fallaron por indisponibilidad
// del proveedor desde el arranque
func (s *ReconcilerService) SoftFailures() int64 {
	return s.softFailures.Load()
}

// Passes retorna cuántas pasadas completó el reconciliador
func (s *ReconcilerService) Passes() int64 {
	return s.passes.Load()
}
