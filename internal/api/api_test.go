package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/triage-ai/reftriage/internal/auth"
	"github.com/triage-ai/reftriage/internal/chread"
	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/rules"
	"github.com/triage-ai/reftriage/internal/service"
	"github.com/triage-ai/reftriage/internal/store"
)

const testKey = "rtk_test_api_key_0123456789abcdef"

type memDocs map[string]string

func (m memDocs) Fetch(_ context.Context, ref engine.DocumentRef) (*docstore.Document, error) {
	content, ok := m[ref.String()]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &docstore.Document{Ref: ref, Title: ref.ID, Content: content}, nil
}

type memProjects struct {
	mu       sync.Mutex
	projects map[string]*store.Project
	nextID   int
}

func newMemProjects() *memProjects {
	return &memProjects{projects: map[string]*store.Project{}}
}

func (m *memProjects) CreateProject(_ context.Context, p store.CreateProjectParams) (*store.Project, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "proj-" + strings.Repeat("x", m.nextID)
	proj := &store.Project{ID: id, Name: p.Name, APIKeyPrefix: "rtk_abcdefgh", Settings: p.Settings, ResolvePolicy: p.ResolvePolicy, CreatedAt: time.Now()}
	m.projects[id] = proj
	return proj, "rtk_abcdefgh_full", nil
}

func (m *memProjects) ListProjects(context.Context) ([]*store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*store.Project{}
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *memProjects) GetProject(_ context.Context, id string) (*store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memProjects) UpdateProject(_ context.Context, id string, params store.UpdateProjectParams) (*store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	if params.Settings != nil {
		p.Settings = *params.Settings
	}
	if params.ResolvePolicy != nil {
		p.ResolvePolicy = *params.ResolvePolicy
	}
	return p, nil
}

func (m *memProjects) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *memProjects) RotateAPIKey(_ context.Context, id string) (*store.Project, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	p.APIKeyPrefix = "rtk_newprefi"
	return p, "rtk_newprefix_full", nil
}

type fakeReader struct {
	last chread.ListEventsParams
}

func (f *fakeReader) ListEvents(_ context.Context, p chread.ListEventsParams) ([]chread.EventRow, int, error) {
	f.last = p
	return []chread.EventRow{{RequestID: "r1", ProjectID: p.ProjectID, ContractStatus: "ok"}}, 1, nil
}

func (f *fakeReader) GetEvent(_ context.Context, projectID, requestID string) (*chread.EventRow, error) {
	if requestID != "r1" {
		return nil, nil
	}
	return &chread.EventRow{RequestID: requestID, ProjectID: projectID}, nil
}

func (f *fakeReader) GetAnalytics(context.Context, string, int) (*chread.AnalyticsResult, error) {
	return &chread.AnalyticsResult{Summary: chread.SummaryStats{TotalResolutions: 3}}, nil
}

type testEnv struct {
	handler  http.Handler
	projects *memProjects
	reader   *fakeReader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	table, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	resolver := service.NewResolver(service.Config{
		Engine:  engine.NewEngine(table, engine.DefaultPrecedenceConfig(), nil),
		Docs:    memDocs{"sendable/type-safety-crossing": "# Crossing isolation\n"},
		Metrics: service.NewMetrics(reg),
		Logger:  zap.NewNop(),
	})
	env := &testEnv{projects: newMemProjects(), reader: &fakeReader{}}
	env.handler = NewRouter(&Dependencies{
		Resolver: resolver,
		Auth:     auth.NewStaticAuthenticator(testKey, auth.ProjectContext{ProjectID: "local"}),
		Projects: env.projects,
		Reader:   env.reader,
		Gatherer: reg,
		Logger:   zap.NewNop(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestResolve_Auth(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad format", "Bearer nope", http.StatusUnauthorized},
		{"wrong key", "Bearer rtk_wrong_key_000000000", http.StatusUnauthorized},
		{"valid", "Bearer " + testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/resolve", strings.NewReader(`{"query":"actors"}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestResolve_DiagnosticWithContent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/resolve", ResolveRequest{
		Query:          "Sending value of non-Sendable type 'Foo' risks causing data races",
		IncludeContent: true,
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[ResolveResponse](t, rec)
	if resp.ContractStatus != "ok" || resp.Confidence != "normal" {
		t.Errorf("unexpected status: %+v", resp)
	}
	top := resp.Documents[0]
	if top.ID != "type-safety-crossing" || top.Score != 1 {
		t.Errorf("unexpected top document: %+v", top)
	}
	if top.Content == nil || *top.Content != "# Crossing isolation\n" {
		t.Errorf("expected content for top document, got %v", top.Content)
	}
	if resp.RequestID == "" || resp.RulesVersion == "" {
		t.Errorf("missing request id or rules version: %+v", resp)
	}
}

func TestResolve_Blocked(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/resolve", `{"query": "how do I migrate to strict concurrency checking"}`, true)
	resp := decode[ResolveResponse](t, rec)
	if resp.ContractStatus != "blocked" {
		t.Fatalf("expected blocked, got %+v", resp)
	}
	if resp.ClarifyingQuestion == nil || *resp.ClarifyingQuestion == "" {
		t.Error("blocked response must ask a question")
	}
	if resp.Documents == nil || len(resp.Documents) != 0 {
		t.Errorf("blocked response should carry an empty document list, got %v", resp.Documents)
	}
	if len(resp.MissingSignals) == 0 {
		t.Error("expected missing signals")
	}
	if !strings.Contains(rec.Body.String(), `"documents":[]`) {
		t.Errorf("documents should serialize as []: %s", rec.Body.String())
	}

	// Supplying the setting lifts the block; numeric settings keep their literal form.
	rec = env.do(t, http.MethodPost, "/v1/resolve", `{"query": "how do I migrate to strict concurrency checking", "settings": {"swift-version": 6}}`, true)
	if resp := decode[ResolveResponse](t, rec); resp.ContractStatus != "ok" {
		t.Errorf("expected ok with swift-version, got %+v", resp)
	}
}

func TestResolve_EmptyQueryFallsBack(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/resolve", `{"query": ""}`, true)
	resp := decode[ResolveResponse](t, rec)
	if resp.Confidence != "low" || len(resp.Documents) == 0 || resp.Documents[0].ID != "root-index" {
		t.Errorf("expected low-confidence fallback, got %+v", resp)
	}
}

func TestResolve_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"nested settings", `{"query": "x", "settings": {"a": {"b": 1}}}`, http.StatusBadRequest},
		{"query too large", `{"query": "` + strings.Repeat("a", maxQueryBytes+1) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/resolve", tt.body, true)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetDocument(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/documents/sendable/type-safety-crossing", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if doc := decode[DocumentContentResp](t, rec); doc.Content == "" {
		t.Error("expected content")
	}
	if rec := env.do(t, http.MethodGet, "/v1/documents/sendable/missing", nil, true); rec.Code != http.StatusNotFound {
		t.Errorf("missing document status = %d", rec.Code)
	}
}

func TestRules(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/rules", nil, true)
	resp := decode[RulesResp](t, rec)
	if resp.Rules == 0 || resp.Roots != 2 || len(resp.Fallback) != 1 || resp.Fallback[0] != "root/root-index" {
		t.Errorf("unexpected summary: %+v", resp)
	}
}

func TestProjects_CRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reftriage/projects", map[string]any{
		"name":           "ios-app",
		"settings":       map[string]any{"swift-version": "6"},
		"resolve_policy": map[string]any{"max_documents": 3},
	}, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[CreateProjectResp](t, rec)
	if created.APIKey == "" || created.ID == "" {
		t.Fatalf("create response missing key or id: %+v", created)
	}

	path := "/api/reftriage/projects/" + created.ID
	if rec := env.do(t, http.MethodGet, path, nil, false); rec.Code != http.StatusOK {
		t.Errorf("get status %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, path, map[string]any{"name": "renamed"}, false); decode[ProjectResp](t, rec).Name != "renamed" {
		t.Errorf("patch did not rename: %s", rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, path+"/rotate-key", nil, false); decode[RotateKeyResp](t, rec).APIKey == "" {
		t.Errorf("rotate returned no key: %s", rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/api/reftriage/projects", nil, false); len(decode[[]ProjectResp](t, rec)) != 1 {
		t.Errorf("list: %s", rec.Body.String())
	}
	if rec := env.do(t, http.MethodDelete, path, nil, false); rec.Code != http.StatusNoContent {
		t.Errorf("delete status %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, nil, false); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status %d", rec.Code)
	}
}

func TestProjects_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"empty name", `{"name": ""}`},
		{"nested settings", `{"name": "a", "settings": {"k": [1]}}`},
		{"unknown policy field", `{"name": "a", "resolve_policy": {"mode": "shadow"}}`},
		{"negative cap", `{"name": "a", "resolve_policy": {"max_documents": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/reftriage/projects", tt.body, false)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
		})
	}
	if rec := env.do(t, http.MethodPatch, "/api/reftriage/projects/nope", `{"name": "x"}`, false); rec.Code != http.StatusNotFound {
		t.Errorf("patch unknown status = %d", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/reftriage/events", nil, false); rec.Code != http.StatusBadRequest {
		t.Errorf("missing project_id status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/reftriage/events?project_id=p1&page_size=1000&contract_status=blocked", nil, false)
	list := decode[EventListResp](t, rec)
	if list.Total != 1 || list.PageSize != 200 {
		t.Errorf("unexpected list: %+v", list)
	}
	if env.reader.last.ContractStatus == nil || *env.reader.last.ContractStatus != "blocked" {
		t.Error("contract_status filter not passed through")
	}
	if rec := env.do(t, http.MethodGet, "/api/reftriage/events/zzz?project_id=p1", nil, false); rec.Code != http.StatusNotFound {
		t.Errorf("unknown event status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/reftriage/analytics?project_id=p1", nil, false)
	if a := decode[chread.AnalyticsResult](t, rec); a.Summary.TotalResolutions != 3 {
		t.Errorf("unexpected analytics: %+v", a)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/resolve", `{"query": "actors"}`, true)

	if rec := env.do(t, http.MethodGet, "/healthz", nil, false); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/metrics", nil, false)
	if !strings.Contains(rec.Body.String(), "reftriage_resolutions_total") {
		t.Errorf("metrics missing resolution counter:\n%s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/v1/resolve", nil, false)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected preflight response: %d %v", rec.Code, rec.Header())
	}
}

func BenchmarkResolveHTTP(b *testing.B) {
	table, err := rules.Default()
	if err != nil {
		b.Fatal(err)
	}
	h := NewRouter(&Dependencies{
		Resolver: service.NewResolver(service.Config{Engine: engine.NewEngine(table, engine.DefaultPrecedenceConfig(), nil)}),
		Auth:     auth.NewStaticAuthenticator(testKey, auth.ProjectContext{ProjectID: "bench"}),
	})
	body := []byte(`{"query": "Sending value of non-Sendable type 'Foo' risks causing data races"}`)
	b.ReportAllocs()
	for b.Loop() {
		req := httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testKey)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("status %d", rec.Code)
		}
	}
}

// mutableDocs is a writable document store fake.
type mutableDocs struct {
	mu   sync.Mutex
	docs map[engine.DocumentRef]docstore.Document
}

func (m *mutableDocs) Fetch(_ context.Context, ref engine.DocumentRef) (*docstore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[ref]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &doc, nil
}

func (m *mutableDocs) UpsertDocument(_ context.Context, doc docstore.Document) (*docstore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.UpdatedAt = time.Now()
	m.docs[doc.Ref] = doc
	return &doc, nil
}

func TestPutDocument_InvalidatesCache(t *testing.T) {
	table, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	backend := &mutableDocs{docs: map[engine.DocumentRef]docstore.Document{}}
	ref := engine.DocumentRef{Category: "sendable", ID: "type-safety-crossing"}
	backend.docs[ref] = docstore.Document{Ref: ref, Title: "v1", Content: "# v1\n"}

	handler := NewRouter(&Dependencies{
		Resolver: service.NewResolver(service.Config{
			Engine: engine.NewEngine(table, engine.DefaultPrecedenceConfig(), nil),
			Docs:   docstore.NewCachedStore(backend, time.Hour, nil),
		}),
		Auth: auth.NewStaticAuthenticator(testKey, auth.ProjectContext{ProjectID: "local"}),
		Docs: backend,
	})
	env := &testEnv{handler: handler}
	path := "/v1/documents/sendable/type-safety-crossing"

	if got := decode[DocumentContentResp](t, env.do(t, http.MethodGet, path, nil, true)); got.Content != "# v1\n" {
		t.Fatalf("unexpected initial content: %+v", got)
	}

	rec := env.do(t, http.MethodPut, "/api/reftriage/documents/sendable/type-safety-crossing",
		PutDocumentReq{Title: "v2", Content: "# v2\n"}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status %d: %s", rec.Code, rec.Body.String())
	}

	if got := decode[DocumentContentResp](t, env.do(t, http.MethodGet, path, nil, true)); got.Content != "# v2\n" || got.Title != "v2" {
		t.Errorf("cache should have been invalidated, got %+v", got)
	}

	rec = env.do(t, http.MethodPut, "/api/reftriage/documents/sendable/empty", PutDocumentReq{Title: "t"}, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty content: status %d, want 400", rec.Code)
	}
}

func TestPutDocument_NoWriter(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, "/api/reftriage/documents/c/d", PutDocumentReq{Content: "x"}, false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without a writer: status %d, want 503", rec.Code)
	}
}

func TestResolve_RateLimited(t *testing.T) {
	table, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{handler: NewRouter(&Dependencies{
		Resolver: service.NewResolver(service.Config{
			Engine:  engine.NewEngine(table, engine.DefaultPrecedenceConfig(), nil),
			Limiter: service.NewRateLimiter(0.001, 1),
		}),
		Auth: auth.NewStaticAuthenticator(testKey, auth.ProjectContext{ProjectID: "local"}),
	})}

	if rec := env.do(t, http.MethodPost, "/v1/resolve", `{"query": "actors"}`, true); rec.Code != http.StatusOK {
		t.Fatalf("first call: status %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/v1/resolve", `{"query": "actors"}`, true)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
