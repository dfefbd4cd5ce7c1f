// Package service runs a resolve call end to end for the HTTP and gRPC
// surfaces: settings merge, engine resolution, optional document content,
// event write and metrics.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/auth"
	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/storage"
)

// fetchConcurrency bounds parallel document fetches per request.
const fetchConcurrency = 4

// Request is one resolve call.
type Request struct {
	Query          string
	Settings       map[string]any
	IncludeContent bool
	Source         string // "http" or "grpc"
}

// Document is a resolved document, with content when it was requested and
// the store had it.
type Document struct {
	engine.ScoredDocument
	Title   string
	Content string
	Found   bool
}

// Response is the outcome of a resolve call.
type Response struct {
	RequestID string
	Result    engine.ResolutionResult
	Documents []Document
	LatencyMs float64
}

// Config wires a Resolver.
type Config struct {
	Engine  *engine.Engine
	Docs    docstore.Store      // nil disables include_content
	Writer  storage.EventWriter // nil disables event persistence
	Metrics *Metrics
	Limiter *RateLimiter // nil = unlimited
	Logger  *zap.Logger
}

// Resolver runs resolve calls. It is safe for concurrent use.
type Resolver struct {
	engine  *engine.Engine
	docs    docstore.Store
	writer  storage.EventWriter
	metrics *Metrics
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Resolver{
		engine:  cfg.Engine,
		docs:    cfg.Docs,
		writer:  cfg.Writer,
		metrics: metrics,
		limiter: cfg.Limiter,
		logger:  logger,
	}
}

// Engine returns the underlying engine.
func (r *Resolver) Engine() *engine.Engine {
	return r.engine
}

// Docs returns the document store, or nil.
func (r *Resolver) Docs() docstore.Store {
	return r.docs
}

// Resolve validates the request settings, resolves the query for the
// project and fetches content for OK results when asked. The only errors are
// ErrInvalidSettings and ErrRateLimited; resolution itself cannot fail.
func (r *Resolver) Resolve(ctx context.Context, project *auth.ProjectContext, req Request) (*Response, error) {
	start := time.Now()

	var (
		projectID string
		defaults  map[string]any
		policy    *engine.ResolvePolicy
	)
	if project != nil {
		projectID = project.ProjectID
		defaults = project.Settings
		policy = project.Policy
	}
	if !r.limiter.Allow(projectID) {
		r.metrics.RateLimited.WithLabelValues(req.Source).Inc()
		return nil, ErrRateLimited
	}

	if err := ValidateSettings(req.Settings); err != nil {
		return nil, err
	}

	q := r.engine.Extract(req.Query, MergeSettings(defaults, req.Settings))
	result := r.engine.ResolveWithPolicy(q, policy)

	resp := &Response{
		RequestID: uuid.NewString(),
		Result:    result,
		Documents: make([]Document, len(result.Documents)),
	}
	for i, d := range result.Documents {
		resp.Documents[i] = Document{ScoredDocument: d}
	}

	// Content is only fetched after resolution, and never for a blocked result.
	if req.IncludeContent && r.docs != nil && result.ContractStatus == engine.ContractOK && len(result.Documents) > 0 {
		r.attachContent(ctx, resp)
	}

	elapsed := time.Since(start)
	resp.LatencyMs = float64(elapsed) / float64(time.Millisecond)

	r.metrics.Resolutions.WithLabelValues(req.Source, result.ContractStatus.String(), result.Confidence.String()).Inc()
	r.metrics.Latency.WithLabelValues(req.Source).Observe(elapsed.Seconds())
	r.metrics.Documents.Observe(float64(len(result.Documents)))

	if r.writer != nil {
		r.writer.Write(storage.NewResolutionEvent(resp.RequestID, projectID, req.Query, req.Source, result, elapsed))
	}
	return resp, nil
}

func (r *Resolver) attachContent(ctx context.Context, resp *Response) {
	refs := make([]engine.DocumentRef, len(resp.Documents))
	for i, d := range resp.Documents {
		refs[i] = d.Document
	}
	docs, err := docstore.FetchAll(ctx, r.docs, refs, fetchConcurrency)
	if err != nil {
		r.metrics.ContentFetches.WithLabelValues("error").Add(float64(len(refs)))
		r.logger.Warn("document fetch failed, returning refs only",
			zap.String("request_id", resp.RequestID),
			zap.Error(err),
		)
		return
	}
	for i, doc := range docs {
		if doc == nil {
			r.metrics.ContentFetches.WithLabelValues("missing").Inc()
			continue
		}
		r.metrics.ContentFetches.WithLabelValues("ok").Inc()
		resp.Documents[i].Title = doc.Title
		resp.Documents[i].Content = doc.Content
		resp.Documents[i].Found = true
	}
}
