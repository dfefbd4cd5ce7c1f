// Package docstore resolves DocumentRefs to document content. The engine
// never calls it; callers fetch only after resolution has finished.
package docstore

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/triage-ai/reftriage/internal/engine"
)

// ErrNotFound is returned when a store has no document for a ref.
var ErrNotFound = errors.New("document not found")

// Document is a fetched reference document.
type Document struct {
	Ref       engine.DocumentRef
	Title     string
	Content   string
	UpdatedAt time.Time
}

// Store fetches documents by ref. Implementations must be safe for
// concurrent use.
type Store interface {
	Fetch(ctx context.Context, ref engine.DocumentRef) (*Document, error)
}

// FetchAll fetches every ref concurrently, at most limit at a time, and
// returns the documents in ref order. Missing documents are left nil; any
// other error cancels the remaining fetches.
func FetchAll(ctx context.Context, s Store, refs []engine.DocumentRef, limit int) ([]*Document, error) {
	out := make([]*Document, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, ref := range refs {
		g.Go(func() error {
			doc, err := s.Fetch(ctx, ref)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
