package workflows

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hypernova-labs/fiscal-service/internal/config"
	"github.com/hypernova-labs/fiscal-service/internal/services"
	"github.com/inngest/inngestgo"
	"github.com/sirupsen/logrus"
)

// InngestClient maneja la configuración del cliente y el envío de eventos
type InngestClient struct {
	client    inngestgo.Client
	reconcile *ReconcileWorkflow
	logger    *logrus.Logger
}

// NewInngestClient crea una nueva instancia del cliente
func NewInngestClient(cfg *config.Config, logger *logrus.Logger) (*InngestClient, error) {
	// Verificar que las credenciales estén configuradas
	if cfg.Inngest.EventKey == "" {
		return nil, fmt.Errorf("INNGEST_EVENT_KEY not configured")
	}

	if cfg.Inngest.SigningKey == "" {
		return nil, fmt.Errorf("INNGEST_SIGNING_KEY not configured")
	}

	client, err := inngestgo.NewClient(inngestgo.ClientOpts{
		EventKey:   &cfg.Inngest.EventKey,
		SigningKey: &cfg.Inngest.SigningKey,
		AppID:      cfg.Inngest.AppID,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Inngest client: %w", err)
	}

	return &InngestClient{
		client: client,
		logger: logger,
	}, nil
}

// RegisterWorkflows registra los workflows con Inngest. El handler que
// retorna Serve debe quedar montado en el router para que Inngest
// pueda invocar las funciones registradas.
func (c *InngestClient) RegisterWorkflows(reconciler *services.ReconcilerService) error {
	c.logger.Info("Registering workflows with Inngest")
	c.reconcile = NewReconcileWorkflow(c.client, reconciler, c.logger)

	_, err := inngestgo.CreateFunction(
		c.client,
		inngestgo.FunctionOpts{
			ID:   "reconcile-document",
			Name: "Reconcile submitted document",
		},
		inngestgo.EventTrigger(EventDocumentSubmitted, nil),
		c.reconcile.ReconcileDocument,
	)
	if err != nil {
		return fmt.Errorf("error registering reconcile function: %w", err)
	}

	return nil
}

// Serve retorna el handler HTTP que atiende las invocaciones de Inngest
func (c *InngestClient) Serve() http.Handler {
	return c.client.Serve()
}

// SendDocumentSubmitted emite el evento de documento enviado para que
// el workflow de reconciliación lo recoja
func (c *InngestClient) SendDocumentSubmitted(ctx context.Context, input DocumentSubmittedInput) error {
	_, err := c.client.Send(ctx, inngestgo.Event{
		Name: EventDocumentSubmitted,
		Data: map[string]any{
			"tenant_id": input.TenantID,
			"ref":       input.Ref,
		},
	})
	if err != nil {
		return fmt.Errorf("error sending document submitted event: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"tenant_id": input.TenantID,
		"ref":       input.Ref,
	}).Info("Document submitted event sent to Inngest")

	return nil
}

// GetClient retorna el cliente de Inngest
func (c *InngestClient) GetClient() inngestgo.Client {
	return c.client
}
