package email

import (
	"fmt"

	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// ResendService maneja el envío de notificaciones usando Resend API
type ResendService struct {
	client    *resend.Client
	fromEmail string
	baseURL   string
	logger    *logrus.Logger
}

// NewResendService crea una nueva instancia de ResendService
func NewResendService(apiKey, fromEmail, baseURL string, logger *logrus.Logger) *ResendService {
	return &ResendService{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// SendOutcomeEmail notifica el desenlace de un documento (autorizado o
// rechazado) al correo del operador del tenant. Un fallo de envío no
// afecta la transición ya aplicada en el ledger.
func (s *ResendService) SendOutcomeEmail(to string, doc *models.FiscalDocument) error {
	var subject string
	switch doc.Status {
	case models.DocumentStatusAuthorized:
		number := ""
		if doc.DocumentNumber != nil {
			number = *doc.DocumentNumber
		}
		subject = fmt.Sprintf("Documento autorizado #%s (ref %s)", number, doc.Ref)
	case models.DocumentStatusRejected:
		subject = fmt.Sprintf("Documento rechazado (ref %s)", doc.Ref)
	default:
		return fmt.Errorf("no outcome email for status %s", doc.Status)
	}

	message := "El documento fue procesado por la autoridad fiscal."
	if doc.ProviderMessage != nil && *doc.ProviderMessage != "" {
		// Se incluye la redacción exacta del proveedor: es lo que el
		// operador necesita para resolver un rechazo
		message = *doc.ProviderMessage
	}

	htmlContent := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Documento fiscal</title></head>
<body>
    <h2>%s</h2>
    <ul>
        <li><strong>Ref:</strong> %s</li>
        <li><strong>Tipo:</strong> %s</li>
        <li><strong>Estado:</strong> %s</li>
    </ul>
    <p>%s</p>
    <p><a href="%s/v1/tenants/%s/documents/%s">Ver documento</a></p>
</body>
</html>`,
		subject,
		doc.Ref,
		doc.DocumentType,
		doc.Status,
		message,
		s.baseURL,
		doc.TenantID,
		doc.Ref)

	request := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Html:    htmlContent,
	}

	result, err := s.client.Emails.Send(request)
	if err != nil {
		return fmt.Errorf("error sending email via Resend: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"email_id": result.Id,
		"to":       to,
		"subject":  subject,
	}).Info("Outcome email sent via Resend")

	return nil
}
