package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/engine"
)

// maxDocumentBytes caps a stored document's content.
const maxDocumentBytes = 512 << 10

// invalidator is implemented by caching document stores.
type invalidator interface {
	Invalidate(ref engine.DocumentRef)
}

// handlePutDocument implements PUT /api/reftriage/documents/{category}/{id}.
func (d *Dependencies) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	if d.Docs == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}
	ref := engine.DocumentRef{Category: r.PathValue("category"), ID: r.PathValue("id")}
	if strings.TrimSpace(ref.Category) == "" || strings.TrimSpace(ref.ID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "category and id are required"})
		return
	}

	var req PutDocumentReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Content == "" || len(req.Content) > maxDocumentBytes {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "content must be 1-524288 bytes"})
		return
	}

	doc, err := d.Docs.UpsertDocument(r.Context(), docstore.Document{Ref: ref, Title: req.Title, Content: req.Content})
	if err != nil {
		d.Logger.Error("failed to store document", zap.Stringer("ref", ref), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to store document"})
		return
	}
	if c, ok := d.Resolver.Docs().(invalidator); ok {
		c.Invalidate(ref)
	}

	writeJSON(w, http.StatusOK, DocumentContentResp{
		ID:        doc.Ref.ID,
		Category:  doc.Ref.Category,
		Title:     doc.Title,
		Content:   doc.Content,
		UpdatedAt: doc.UpdatedAt,
	})
}
