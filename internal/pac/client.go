package pac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hypernova-labs/fiscal-service/internal/config"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Credentials representa las credenciales resueltas para una llamada.
// Se pasan explícitamente en cada operación y nunca se cachean aquí.
type Credentials struct {
	Token       string
	Environment models.Environment
}

// ProvisionResult representa la respuesta del gateway al aprovisionar
// la empresa de un tenant
type ProvisionResult struct {
	EntityID        string `json:"entity_id"`
	TokenStaging    string `json:"token_staging"`
	TokenProduction string `json:"token_production"`
}

// SubmissionAck representa el acuse de recibo de una emisión.
// El gateway procesa fuera de banda: el ack no es una autorización.
type SubmissionAck struct {
	Ref      string `json:"ref"`
	Protocol string `json:"protocol"`
	Status   string `json:"status"`
}

// DocumentStatus representa el estado de un documento según el gateway
type DocumentStatus struct {
	Ref       string `json:"ref"`
	Status    string `json:"status"`
	Number    string `json:"number"`
	Series    string `json:"series"`
	AccessKey string `json:"access_key"`
	PDFURL    string `json:"pdf_url"`
	XMLURL    string `json:"xml_url"`
	Message   string `json:"message"`
}

// Estados reportados por el gateway
const (
	StatusProcessing = "processing"
	StatusAuthorized = "authorized"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusError      = "error"
)

// Client es el adaptador stateless contra el gateway fiscal. Aplica
// reintentos acotados con backoff exponencial sólo sobre fallos
// clasificables como transitorios (error de red, 5xx); un 4xx nunca
// se reintenta y se propaga con el payload crudo del proveedor.
type Client struct {
	httpClient *http.Client
	cfg        config.PACConfig
	logger     *logrus.Logger
}

// NewClient crea una nueva instancia del cliente
func NewClient(cfg config.PACConfig, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// baseURL retorna la base del gateway según el ambiente
func (c *Client) baseURL(env models.Environment) string {
	if env == models.EnvironmentProduction {
		return c.cfg.ProductionURL
	}
	return c.cfg.StagingURL
}

// ProvisionEntity registra la empresa del tenant ante el gateway
func (c *Client) ProvisionEntity(ctx context.Context, creds Credentials, data *models.ProvisionCompanyRequest) (*ProvisionResult, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshaling provision request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, creds, http.MethodPost, "/v1/entities", body)
	if err != nil {
		return nil, err
	}

	var result ProvisionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("error decoding provision response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"entity_id":   result.EntityID,
		"environment": creds.Environment,
	}).Info("Entity provisioned with gateway")

	return &result, nil
}

// SubmitDocument envía un documento al gateway para su emisión
func (c *Client) SubmitDocument(ctx context.Context, creds Credentials, docType models.DocumentType, ref string, payload json.RawMessage) (*SubmissionAck, error) {
	path := fmt.Sprintf("/v1/documents/%s?ref=%s", docType, ref)
	respBody, err := c.doWithRetry(ctx, creds, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}

	var ack SubmissionAck
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return nil, fmt.Errorf("error decoding submission ack: %w", err)
	}
	if ack.Ref == "" {
		ack.Ref = ref
	}

	return &ack, nil
}

// QueryStatus consulta el estado de un documento por ref
func (c *Client) QueryStatus(ctx context.Context, creds Credentials, ref string) (*DocumentStatus, error) {
	path := fmt.Sprintf("/v1/documents/%s", ref)
	respBody, err := c.doWithRetry(ctx, creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var status DocumentStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("error decoding status response: %w", err)
	}

	return &status, nil
}

// CancelDocument solicita la cancelación de un documento ya autorizado.
// Sigue las mismas reglas de reintento y error terminal que la emisión.
func (c *Client) CancelDocument(ctx context.Context, creds Credentials, ref string) (*DocumentStatus, error) {
	path := fmt.Sprintf("/v1/documents/%s/cancel", ref)
	respBody, err := c.doWithRetry(ctx, creds, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}

	var status DocumentStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("error decoding cancel response: %w", err)
	}

	return &status, nil
}

// doWithRetry ejecuta una llamada HTTP con el presupuesto de reintentos.
// Retorna el body en 2xx, ProviderRejectedError en 4xx y
// ProviderUnavailableError al agotar los reintentos.
func (c *Client) doWithRetry(ctx context.Context, creds Credentials, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL(creds.Environment) + path

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.RetryBaseWait << (attempt - 1)
			if wait > 2*time.Second {
				wait = 2 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, &models.ProviderUnavailableError{Attempts: attempts, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}
		attempts++

		respBody, retryable, err := c.doOnce(ctx, creds, method, url, body)
		if err == nil {
			return respBody, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempts,
		}).Warnf("Transient gateway failure: %v", err)
	}

	return nil, &models.ProviderUnavailableError{Attempts: attempts, Err: lastErr}
}

// doOnce ejecuta un único intento y clasifica el resultado
func (c *Client) doOnce(ctx context.Context, creds Credentials, method, url string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, fmt.Errorf("error building gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Environment", string(creds.Environment))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Error de red o timeout: transitorio
		return nil, true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("error reading gateway response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("gateway returned %d", resp.StatusCode)
	default:
		// 4xx: rechazo definitivo, se conserva el payload crudo
		return nil, false, &models.ProviderRejectedError{
			StatusCode:      resp.StatusCode,
			ProviderMessage: string(respBody),
		}
	}
}
