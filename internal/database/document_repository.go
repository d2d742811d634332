package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/fiscal-service/internal/models"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DocumentRepository maneja las operaciones de base de datos para
// FiscalDocument. Append-only salvo status y artefactos del proveedor.
type DocumentRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewDocumentRepository crea una nueva instancia del repositorio
func NewDocumentRepository(db *DB, logger *logrus.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

const documentColumns = `
	id, tenant_id, provider, environment, document_type, ref, status, payload,
	document_number, series, access_key, pdf_url, xml_url, provider_message,
	created_at, updated_at
`

// scanDocument escanea una fila de fiscal_documents
func scanDocument(row interface{ Scan(...interface{}) error }) (*models.FiscalDocument, error) {
	var d models.FiscalDocument
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Provider, &d.Environment, &d.DocumentType, &d.Ref,
		&d.Status, &d.Payload,
		&d.DocumentNumber, &d.Series, &d.AccessKey, &d.PDFURL, &d.XMLURL, &d.ProviderMessage,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserta un documento nuevo. El índice único (tenant_id, ref)
// respalda la idempotencia: una violación se traduce a DuplicateRefError.
func (r *DocumentRepository) Create(doc *models.FiscalDocument) error {
	query := `
		INSERT INTO fiscal_documents (
			id, tenant_id, provider, environment, document_type, ref, status, payload,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecWithTimeout(query,
		doc.ID, doc.TenantID, doc.Provider, doc.Environment, doc.DocumentType,
		doc.Ref, doc.Status, doc.Payload, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &models.DuplicateRefError{Ref: doc.Ref}
		}
		return fmt.Errorf("error inserting document: %w", err)
	}

	return nil
}

// GetByID obtiene un documento por ID
func (r *DocumentRepository) GetByID(id uuid.UUID) (*models.FiscalDocument, error) {
	query := fmt.Sprintf(`SELECT %s FROM fiscal_documents WHERE id = $1`, documentColumns)

	doc, err := scanDocument(r.db.QueryRowWithTimeout(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, fmt.Errorf("error querying document: %w", err)
	}

	return doc, nil
}

// GetByRef obtiene un documento por (tenant, ref), o nil si no existe
func (r *DocumentRepository) GetByRef(tenantID uuid.UUID, ref string) (*models.FiscalDocument, error) {
	query := fmt.Sprintf(`SELECT %s FROM fiscal_documents WHERE tenant_id = $1 AND ref = $2`, documentColumns)

	doc, err := scanDocument(r.db.QueryRowWithTimeout(query, tenantID, ref))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying document by ref: %w", err)
	}

	return doc, nil
}

// TransitionStatus aplica una transición de estado sólo si el documento
// sigue en el estado de partida. Retorna false si otro escritor ganó la
// carrera: el caller debe releer y decidir.
func (r *DocumentRepository) TransitionStatus(id uuid.UUID, from, to models.DocumentStatus) (bool, error) {
	query := `
		UPDATE fiscal_documents
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecWithTimeout(query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("error transitioning document status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// SetAuthorizationArtifacts guarda número, serie, clave de acceso y
// enlaces emitidos por el proveedor. Sólo escribe si aún no están
// seteados: los artefactos son inmutables una vez asignados.
func (r *DocumentRepository) SetAuthorizationArtifacts(id uuid.UUID, number, series, accessKey, pdfURL, xmlURL string) error {
	query := `
		UPDATE fiscal_documents
		SET document_number = $1, series = $2, access_key = $3,
			pdf_url = $4, xml_url = $5, updated_at = $6
		WHERE id = $7 AND document_number IS NULL
	`

	_, err := r.db.ExecWithTimeout(query, number, series, accessKey, pdfURL, xmlURL, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error saving authorization artifacts: %w", err)
	}

	return nil
}

// SetProviderMessage guarda el último mensaje crudo del proveedor
func (r *DocumentRepository) SetProviderMessage(id uuid.UUID, message string) error {
	query := `
		UPDATE fiscal_documents
		SET provider_message = $1, updated_at = $2
		WHERE id = $3
	`

	_, err := r.db.ExecWithTimeout(query, message, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error saving provider message: %w", err)
	}

	return nil
}

// Resubmit devuelve un documento en error a submitted y reemplaza su
// payload, en una sola transacción. El CAS sobre el status decide la
// carrera entre reenvíos concurrentes: el payload sólo se escribe si
// esta llamada ganó. Retorna false si el documento ya no estaba en error.
func (r *DocumentRepository) Resubmit(id uuid.UUID, payload []byte) (bool, error) {
	var applied bool

	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE fiscal_documents
			SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4
		`, models.DocumentStatusSubmitted, time.Now(), id, models.DocumentStatusError)
		if err != nil {
			return fmt.Errorf("error resubmitting document: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("error getting rows affected: %w", err)
		}
		applied = rows > 0
		if !applied {
			return nil
		}

		if _, err := tx.Exec(`
			UPDATE fiscal_documents
			SET payload = $1, updated_at = $2
			WHERE id = $3
		`, payload, time.Now(), id); err != nil {
			return fmt.Errorf("error replacing document payload: %w", err)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// ListPending obtiene documentos en estado no terminal cuya última
// actualización es anterior al corte de debounce. Orden FIFO para que
// ningún documento quede indefinidamente al final del barrido.
func (r *DocumentRepository) ListPending(updatedBefore time.Time, limit int) ([]models.FiscalDocument, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM fiscal_documents
		WHERE status IN ('submitted', 'processing') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, documentColumns)

	rows, err := r.db.QueryWithTimeout(query, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying pending documents: %w", err)
	}
	defer rows.Close()

	var docs []models.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning pending document: %w", err)
		}
		docs = append(docs, *doc)
	}

	return docs, nil
}

// ListByTenant obtiene documentos de un tenant con paginación
func (r *DocumentRepository) ListByTenant(tenantID uuid.UUID, page, pageSize int) ([]models.FiscalDocument, int, error) {
	countQuery := `SELECT COUNT(*) FROM fiscal_documents WHERE tenant_id = $1`
	var total int
	if err := r.db.QueryRowWithTimeout(countQuery, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting documents: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`
		SELECT %s FROM fiscal_documents
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, documentColumns)

	rows, err := r.db.QueryWithTimeout(query, tenantID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying documents: %w", err)
	}
	defer rows.Close()

	var docs []models.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}

	return docs, total, nil
}
