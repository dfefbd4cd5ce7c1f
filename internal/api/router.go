package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/auth"
	"github.com/triage-ai/reftriage/internal/chread"
	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/service"
	"github.com/triage-ai/reftriage/internal/store"
)

// ProjectStore is the project CRUD surface. *store.Store implements it.
type ProjectStore interface {
	CreateProject(ctx context.Context, params store.CreateProjectParams) (*store.Project, string, error)
	ListProjects(ctx context.Context) ([]*store.Project, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, params store.UpdateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id string) (*store.Project, string, error)
}

// EventReader is the event query surface. *chread.Reader implements it.
type EventReader interface {
	ListEvents(ctx context.Context, params chread.ListEventsParams) ([]chread.EventRow, int, error)
	GetEvent(ctx context.Context, projectID, requestID string) (*chread.EventRow, error)
	GetAnalytics(ctx context.Context, projectID string, days int) (*chread.AnalyticsResult, error)
}

// DocumentWriter stores document content. *store.Store implements it.
type DocumentWriter interface {
	UpsertDocument(ctx context.Context, doc docstore.Document) (*docstore.Document, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Resolver *service.Resolver
	Auth     auth.Authenticator
	Projects ProjectStore   // nil if Postgres unavailable
	Reader   EventReader    // nil if ClickHouse unavailable
	Docs     DocumentWriter // nil if Postgres unavailable
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Resolution (auth required via Bearer rtk_ token)
	mux.HandleFunc("POST /v1/resolve", deps.authMiddleware(deps.handleResolve))
	mux.HandleFunc("GET /v1/documents/{category}/{id}", deps.authMiddleware(deps.handleGetDocument))
	mux.HandleFunc("GET /v1/rules", deps.authMiddleware(deps.handleRules))

	// Project CRUD (no auth; operator surface)
	mux.HandleFunc("POST /api/reftriage/projects", deps.handleCreateProject)
	mux.HandleFunc("GET /api/reftriage/projects", deps.handleListProjects)
	mux.HandleFunc("GET /api/reftriage/projects/{project_id}", deps.handleGetProject)
	mux.HandleFunc("PATCH /api/reftriage/projects/{project_id}", deps.handleUpdateProject)
	mux.HandleFunc("DELETE /api/reftriage/projects/{project_id}", deps.handleDeleteProject)
	mux.HandleFunc("POST /api/reftriage/projects/{project_id}/rotate-key", deps.handleRotateKey)

	// Document content (no auth)
	mux.HandleFunc("PUT /api/reftriage/documents/{category}/{id}", deps.handlePutDocument)

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/reftriage/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/reftriage/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/reftriage/analytics", deps.handleGetAnalytics)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":        "ok",
			"rules_version": deps.Resolver.Engine().Table().Version(),
		})
	})
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
