package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/engine"
)

// Fetch implements docstore.Store over the documents table.
func (s *Store) Fetch(ctx context.Context, ref engine.DocumentRef) (*docstore.Document, error) {
	doc := &docstore.Document{Ref: ref}
	err := s.db.QueryRowContext(ctx, `
		SELECT title, content, updated_at
		FROM documents WHERE category = $1 AND id = $2`,
		ref.Category, ref.ID,
	).Scan(&doc.Title, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Fetch %s: %w", ref, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Fetch %s: %w", ref, err)
	}
	return doc, nil
}

// UpsertDocument inserts or replaces a document.
func (s *Store) UpsertDocument(ctx context.Context, doc docstore.Document) (*docstore.Document, error) {
	out := &docstore.Document{Ref: doc.Ref}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (category, id, title, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (category, id) DO UPDATE SET
			title      = EXCLUDED.title,
			content    = EXCLUDED.content,
			updated_at = now()
		RETURNING title, content, updated_at`,
		doc.Ref.Category, doc.Ref.ID, doc.Title, doc.Content,
	).Scan(&out.Title, &out.Content, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("UpsertDocument: %w", err)
	}
	return out, nil
}
