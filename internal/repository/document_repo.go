package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zirpo/pm-backend/internal/model"
)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

type DocumentRepository struct {
	db *pgxpool.Pool
}

func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// AddDocument stores a document; the project must exist.
func (r *DocumentRepository) AddDocument(ctx context.Context, doc *model.Document) error {
	query := `
        INSERT INTO project_documents (id, project_id, file_name, content_type, content, size_bytes)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING uploaded_at
    `
	id := uuid.New()
	if doc.ID != "" {
		parsed, err := uuid.Parse(doc.ID)
		if err != nil {
			return fmt.Errorf("invalid document id %q: %w", doc.ID, err)
		}
		id = parsed
	}
	doc.ID = id.String()
	doc.SizeBytes = int64(len(doc.Content))

	err := withDB(ctx, "insert", "project_documents", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query,
			id, doc.ProjectID, doc.FileName, doc.ContentType, doc.Content, doc.SizeBytes,
		).Scan(&doc.UploadedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return model.ErrNotFound
		}
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// ListDocuments returns the documents of a project, oldest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, projectID int64) ([]model.Document, error) {
	query := `
        SELECT id::text, project_id, file_name, content_type, content, size_bytes, uploaded_at
        FROM project_documents
        WHERE project_id = $1
        ORDER BY uploaded_at ASC, id ASC
    `
	docs := make([]model.Document, 0)
	err := withDB(ctx, "select", "project_documents", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d model.Document
			if err := rows.Scan(&d.ID, &d.ProjectID, &d.FileName, &d.ContentType, &d.Content, &d.SizeBytes, &d.UploadedAt); err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list documents of project %d: %w", projectID, err)
	}
	return docs, nil
}
