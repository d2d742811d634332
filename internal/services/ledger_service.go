package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/hypernova-labs/fiscal-service/internal/pac"
	"github.com/sirupsen/logrus"
)

// LedgerService es el registro autoritativo de emisiones y el único
// escritor del status de un documento. Toda transición, venga del
// barrido automático, de un refresh manual o de una cancelación, pasa
// por sus funciones guardadas.
type LedgerService struct {
	docs    DocumentStore
	gateway GatewayClient
	logger  *logrus.Logger
	locks   *keyedMutex
}

// NewLedgerService crea una nueva instancia del ledger
func NewLedgerService(docs DocumentStore, gateway GatewayClient, logger *logrus.Logger) *LedgerService {
	return &LedgerService{
		docs:    docs,
		gateway: gateway,
		logger:  logger,
		locks:   newKeyedMutex(),
	}
}

// lockKey arma la clave de exclusión por (tenant, documento)
func lockKey(tenantID, docID uuid.UUID) string {
	return tenantID.String() + "/" + docID.String()
}

// credsFor resuelve las credenciales del gateway para el ambiente en
// que se emitió el documento. Los tokens se leen en el momento de la
// llamada, nunca se copian al registro del documento.
func credsFor(integration *models.FiscalIntegration, env models.Environment) pac.Credentials {
	return pac.Credentials{
		Token:       integration.TokenFor(env),
		Environment: env,
	}
}

// Submit acepta una emisión y la envía al gateway. El registro existe
// durable en estado created antes de que dispare la llamada remota;
// así un crash entre el envío y la persistencia no pierde el intento.
//
// Si (tenant, ref) ya existe y no está en error, retorna
// DuplicateRefError. Un ref en error se reenvía reutilizando la fila.
// Ante ProviderRejectedError o ProviderUnavailableError retorna el
// documento persistido junto con el error tipado: el estado del ledger
// refleja siempre lo realmente aplicado.
func (s *LedgerService) Submit(ctx context.Context, integration *models.FiscalIntegration, docType models.DocumentType, ref string, payload json.RawMessage) (*models.FiscalDocument, error) {
	if ref == "" {
		ref = uuid.NewString()
	}

	env := integration.Environment

	doc, err := s.docs.GetByRef(integration.TenantID, ref)
	if err != nil {
		return nil, fmt.Errorf("error checking ref: %w", err)
	}

	if doc != nil {
		if doc.Status != models.DocumentStatusError {
			return nil, &models.DuplicateRefError{Ref: ref}
		}
		// Camino de reintento documentado: error -> submitted con el
		// payload nuevo, atómico para que un duplicado concurrente no
		// pise el payload del que ganó
		applied, err := s.docs.Resubmit(doc.ID, payload)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, &models.DuplicateRefError{Ref: ref}
		}
	} else {
		now := time.Now()
		doc = &models.FiscalDocument{
			ID:           uuid.New(),
			TenantID:     integration.TenantID,
			Provider:     models.ProviderName,
			Environment:  env,
			DocumentType: docType,
			Ref:          ref,
			Status:       models.DocumentStatusCreated,
			Payload:      payload,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.docs.Create(doc); err != nil {
			// Una carrera de inserción aflora como DuplicateRefError
			return nil, err
		}
		if _, err := s.docs.TransitionStatus(doc.ID, models.DocumentStatusCreated, models.DocumentStatusSubmitted); err != nil {
			return nil, err
		}
	}

	ack, err := s.gateway.SubmitDocument(ctx, credsFor(integration, env), docType, ref, payload)
	if err != nil {
		var rejected *models.ProviderRejectedError
		if errors.As(err, &rejected) {
			// Rechazo definitivo en el envío: terminal, con el texto
			// crudo del proveedor para diagnóstico
			if _, terr := s.docs.TransitionStatus(doc.ID, models.DocumentStatusSubmitted, models.DocumentStatusRejected); terr != nil {
				s.logger.Errorf("Error marking document %s rejected: %v", doc.ID, terr)
			}
			if merr := s.docs.SetProviderMessage(doc.ID, rejected.ProviderMessage); merr != nil {
				s.logger.Errorf("Error saving provider message for %s: %v", doc.ID, merr)
			}
			current, _ := s.docs.GetByID(doc.ID)
			return current, err
		}

		// Timeout o indisponibilidad: estado remoto desconocido. El
		// documento queda en submitted y lo resuelve la reconciliación.
		var unavailable *models.ProviderUnavailableError
		if errors.As(err, &unavailable) {
			s.logger.WithFields(logrus.Fields{
				"tenant_id": integration.TenantID,
				"ref":       ref,
			}).Warn("Submission outcome unknown, document stays submitted")
			current, _ := s.docs.GetByID(doc.ID)
			return current, err
		}

		return nil, err
	}

	// Acuse del proveedor: el documento pasa a processing hasta que la
	// reconciliación observe el desenlace
	if _, err := s.docs.TransitionStatus(doc.ID, models.DocumentStatusSubmitted, models.DocumentStatusProcessing); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id": integration.TenantID,
		"ref":       ref,
		"doc_type":  docType,
		"protocol":  ack.Protocol,
	}).Info("Document submitted to gateway")

	return s.docs.GetByID(doc.ID)
}

// ApplyProviderStatus aplica al ledger un estado reportado por el
// proveedor. Es idempotente: reaplicar un estado terminal ya asignado
// es un no-op y nunca altera número, serie ni clave de acceso ya
// escritos. Retorna true si hubo transición.
func (s *LedgerService) ApplyProviderStatus(docID uuid.UUID, ps *pac.DocumentStatus) (bool, *models.FiscalDocument, error) {
	doc, err := s.docs.GetByID(docID)
	if err != nil {
		return false, nil, err
	}

	unlock := s.locks.Lock(lockKey(doc.TenantID, doc.ID))
	defer unlock()

	// Releer bajo el lock: otro trigger pudo haber transicionado
	doc, err = s.docs.GetByID(docID)
	if err != nil {
		return false, nil, err
	}

	target, ok := mapProviderStatus(ps.Status)
	if !ok {
		s.logger.Warnf("Unknown provider status %q for document %s", ps.Status, docID)
		return false, doc, nil
	}

	if doc.Status == target {
		return false, doc, nil
	}
	if doc.Status.IsTerminal() {
		// El otro trigger ya decidió el estado terminal
		s.logger.WithFields(logrus.Fields{
			"document_id": docID,
			"status":      doc.Status,
			"reported":    target,
		}).Info("Document already terminal, provider status ignored")
		return false, doc, nil
	}
	if !models.CanTransition(doc.Status, target) {
		return false, doc, fmt.Errorf("illegal transition %s -> %s for document %s", doc.Status, target, docID)
	}

	// Los artefactos se escriben antes del cambio de estado para que un
	// documento authorized siempre tenga número, serie y clave de acceso
	if target == models.DocumentStatusAuthorized {
		if err := s.docs.SetAuthorizationArtifacts(doc.ID, ps.Number, ps.Series, ps.AccessKey, ps.PDFURL, ps.XMLURL); err != nil {
			return false, nil, err
		}
	}
	if ps.Message != "" {
		if err := s.docs.SetProviderMessage(doc.ID, ps.Message); err != nil {
			s.logger.Errorf("Error saving provider message for %s: %v", doc.ID, err)
		}
	}

	applied, err := s.docs.TransitionStatus(doc.ID, doc.Status, target)
	if err != nil {
		return false, nil, err
	}

	current, err := s.docs.GetByID(doc.ID)
	if err != nil {
		return false, nil, err
	}

	if applied {
		s.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"tenant_id":   doc.TenantID,
			"from":        doc.Status,
			"to":          target,
		}).Info("Document status transitioned")
	}

	return applied, current, nil
}

// Cancel cancela un documento ya autorizado. Es la única salida legal
// de un estado terminal y es en sí una llamada al gateway con las
// mismas reglas de reintento que la emisión.
func (s *LedgerService) Cancel(ctx context.Context, integration *models.FiscalIntegration, docID uuid.UUID) (*models.FiscalDocument, error) {
	doc, err := s.docs.GetByID(docID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lockKey(doc.TenantID, doc.ID))
	defer unlock()

	doc, err = s.docs.GetByID(docID)
	if err != nil {
		return nil, err
	}

	if doc.Status == models.DocumentStatusCancelled {
		return doc, nil
	}
	if doc.Status != models.DocumentStatusAuthorized {
		return nil, &models.PreconditionFailedError{Precondition: "document must be authorized to be cancelled"}
	}

	result, err := s.gateway.CancelDocument(ctx, credsFor(integration, doc.Environment), doc.Ref)
	if err != nil {
		// Rechazo o indisponibilidad: el documento sigue authorized
		return nil, err
	}

	if result.Message != "" {
		if merr := s.docs.SetProviderMessage(doc.ID, result.Message); merr != nil {
			s.logger.Errorf("Error saving provider message for %s: %v", doc.ID, merr)
		}
	}
	if _, err := s.docs.TransitionStatus(doc.ID, models.DocumentStatusAuthorized, models.DocumentStatusCancelled); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"tenant_id":   doc.TenantID,
		"ref":         doc.Ref,
	}).Info("Document cancelled")

	return s.docs.GetByID(doc.ID)
}

// GetByRef obtiene un documento del ledger por (tenant, ref)
func (s *LedgerService) GetByRef(tenantID uuid.UUID, ref string) (*models.FiscalDocument, error) {
	return s.docs.GetByRef(tenantID, ref)
}

// ListByTenant obtiene los documentos de un tenant con paginación
func (s *LedgerService) ListByTenant(tenantID uuid.UUID, page, pageSize int) ([]models.FiscalDocument, int, error) {
	return s.docs.ListByTenant(tenantID, page, pageSize)
}

// mapProviderStatus traduce el estado del proveedor al estado del ledger
func mapProviderStatus(status string) (models.DocumentStatus, bool) {
	switch status {
	case pac.StatusProcessing:
		return models.DocumentStatusProcessing, true
	case pac.StatusAuthorized:
		return models.DocumentStatusAuthorized, true
	case pac.StatusRejected:
		return models.DocumentStatusRejected, true
	case pac.StatusCancelled:
		return models.DocumentStatusCancelled, true
	case pac.StatusError:
		return models.DocumentStatusError, true
	}
	return "", false
}
