package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/service"
)

// maxQueryBytes caps the query text accepted over HTTP.
const maxQueryBytes = 16 << 10

// handleResolve implements POST /v1/resolve.
// Auth middleware has already validated the Bearer token and injected the project.
func (d *Dependencies) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Query) > maxQueryBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResp{Detail: fmt.Sprintf("query exceeds %d bytes", maxQueryBytes)})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	resp, err := d.Resolver.Resolve(r.Context(), proj, service.Request{
		Query:          req.Query,
		Settings:       req.Settings,
		IncludeContent: req.IncludeContent,
		Source:         "http",
	})
	switch {
	case errors.Is(err, service.ErrInvalidSettings):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	case errors.Is(err, service.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, ErrorResp{Detail: "Rate limit exceeded"})
		return
	}
	if err != nil {
		d.Logger.Error("resolve failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to resolve query"})
		return
	}

	writeJSON(w, http.StatusOK, toResolveResponse(resp, d.Resolver.Engine().Table().Version()))
}

func toResolveResponse(resp *service.Response, rulesVersion string) ResolveResponse {
	res := resp.Result
	docs := make([]DocumentResp, len(resp.Documents))
	for i, doc := range resp.Documents {
		docs[i] = DocumentResp{
			ID:                 doc.Document.ID,
			Category:           doc.Document.Category,
			Score:              doc.Score,
			SourceRule:         doc.SourceRule,
			NeedsClarification: doc.NeedsClarification,
		}
		if doc.Found {
			title, content := doc.Title, doc.Content
			docs[i].Title = &title
			docs[i].Content = &content
		}
	}

	var question *string
	if res.ClarifyingQuestion != "" {
		q := res.ClarifyingQuestion
		question = &q
	}
	missing := res.MissingSignals
	if missing == nil {
		missing = []string{}
	}

	return ResolveResponse{
		RequestID:          resp.RequestID,
		Documents:          docs,
		Category:           res.Category,
		ContractStatus:     res.ContractStatus.String(),
		ClarifyingQuestion: question,
		MissingSignals:     missing,
		Confidence:         res.Confidence.String(),
		Ambiguous:          res.Ambiguous,
		RulesVersion:       rulesVersion,
		LatencyMs:          resp.LatencyMs,
	}
}

// handleGetDocument implements GET /v1/documents/{category}/{id}.
func (d *Dependencies) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docs := d.Resolver.Docs()
	if docs == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Document store not configured"})
		return
	}
	ref := engine.DocumentRef{Category: r.PathValue("category"), ID: r.PathValue("id")}

	doc, err := docs.Fetch(r.Context(), ref)
	if errors.Is(err, docstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Document not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to fetch document", zap.Stringer("ref", ref), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to fetch document"})
		return
	}

	writeJSON(w, http.StatusOK, DocumentContentResp{
		ID:        doc.Ref.ID,
		Category:  doc.Ref.Category,
		Title:     doc.Title,
		Content:   doc.Content,
		UpdatedAt: doc.UpdatedAt,
	})
}

// handleRules implements GET /v1/rules.
func (d *Dependencies) handleRules(w http.ResponseWriter, _ *http.Request) {
	s := d.Resolver.Engine().Table().Summary()
	fallback := make([]string, len(s.Fallback))
	for i, ref := range s.Fallback {
		fallback[i] = ref.String()
	}
	writeJSON(w, http.StatusOK, RulesResp{
		Version:   s.Version,
		Rules:     s.Rules,
		ByType:    s.ByType,
		Roots:     s.Roots,
		Patterns:  s.Patterns,
		Contracts: s.Contracts,
		Fallback:  fallback,
	})
}
