package models

import (
	"time"

	"github.com/google/uuid"
)

// CertificateStatus representa el estado del certificado digital
type CertificateStatus string

const (
	CertificateStatusPendingValidation CertificateStatus = "pending_validation"
	CertificateStatusValid             CertificateStatus = "valid"
	CertificateStatusInvalid           CertificateStatus = "invalid"
	CertificateStatusExpired           CertificateStatus = "expired"
)

// FiscalCertificate representa el certificado digital activo de un tenant.
// El contenedor firmado se guarda en storage; aquí sólo viven la
// referencia opaca y los metadatos extraídos al subirlo.
type FiscalCertificate struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	TenantID    uuid.UUID         `json:"tenant_id" db:"tenant_id"`
	Provider    string            `json:"provider" db:"provider"`
	StorageKey  string            `json:"-" db:"storage_key"`
	Filename    string            `json:"filename" db:"filename"`
	ContentType string            `json:"content_type" db:"content_type"`
	SizeBytes   int64             `json:"size_bytes" db:"size_bytes"`
	Status      CertificateStatus `json:"status" db:"status"`
	NotBefore   time.Time         `json:"not_before" db:"not_before"`
	NotAfter    time.Time         `json:"not_after" db:"not_after"`
	TaxID       string            `json:"tax_id" db:"tax_id"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// EffectiveStatus recalcula el estado contra el reloj: un certificado
// vencido se reporta expired aunque la fila diga valid. El estado es
// derivado, no sólo almacenado.
func (c *FiscalCertificate) EffectiveStatus(now time.Time) CertificateStatus {
	if c.Status == CertificateStatusValid && now.After(c.NotAfter) {
		return CertificateStatusExpired
	}
	return c.Status
}

// CertificateResponse representa el certificado hacia afuera, sin la
// ubicación de storage
type CertificateResponse struct {
	TenantID    uuid.UUID         `json:"tenant_id"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	Status      CertificateStatus `json:"status"`
	NotBefore   time.Time         `json:"not_before"`
	NotAfter    time.Time         `json:"not_after"`
	TaxID       string            `json:"tax_id"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewCertificateResponse construye la vista externa de un certificado
func NewCertificateResponse(c *FiscalCertificate, now time.Time) *CertificateResponse {
	return &CertificateResponse{
		TenantID:    c.TenantID,
		Filename:    c.Filename,
		ContentType: c.ContentType,
		SizeBytes:   c.SizeBytes,
		Status:      c.EffectiveStatus(now),
		NotBefore:   c.NotBefore,
		NotAfter:    c.NotAfter,
		TaxID:       c.TaxID,
		UpdatedAt:   c.UpdatedAt,
	}
}
