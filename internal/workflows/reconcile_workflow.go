package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/services"
	"github.com/inngest/inngestgo"
	"github.com/sirupsen/logrus"
)

// EventDocumentSubmitted es el evento que dispara la reconciliación de
// un documento recién enviado
const EventDocumentSubmitted = "fiscal/document.submitted"

// ReconcileWorkflow reconcilia un documento puntual como reacción a un
// evento, por el mismo camino que el barrido periódico y el refresh
// manual
type ReconcileWorkflow struct {
	client     inngestgo.Client
	reconciler *services.ReconcilerService
	logger     *logrus.Logger
}

// NewReconcileWorkflow crea una nueva instancia del workflow
func NewReconcileWorkflow(client inngestgo.Client, reconciler *services.ReconcilerService, logger *logrus.Logger) *ReconcileWorkflow {
	return &ReconcileWorkflow{
		client:     client,
		reconciler: reconciler,
		logger:     logger,
	}
}

// ReconcileDocument es la función principal del workflow. La firma
// retorna any para calzar con inngestgo.SDKFunction.
func (w *ReconcileWorkflow) ReconcileDocument(ctx context.Context, input inngestgo.Input[DocumentSubmittedInput]) (any, error) {
	tenantID, err := uuid.Parse(input.Event.Data.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id in event: %w", err)
	}

	doc, err := w.reconciler.ReconcileDocument(ctx, tenantID, input.Event.Data.Ref)
	if err != nil {
		return nil, fmt.Errorf("error reconciling document: %w", err)
	}
	if doc == nil {
		w.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"ref":       input.Event.Data.Ref,
		}).Warn("Document in event no longer exists")
		return &DocumentReconcileOutput{Ref: input.Event.Data.Ref, Status: "missing"}, nil
	}

	return &DocumentReconcileOutput{
		Ref:    doc.Ref,
		Status: string(doc.Status),
	}, nil
}

// DocumentSubmittedInput representa el input del workflow
type DocumentSubmittedInput struct {
	TenantID string `json:"tenant_id"`
	Ref      string `json:"ref"`
}

// DocumentReconcileOutput representa el output del workflow
type DocumentReconcileOutput struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}
