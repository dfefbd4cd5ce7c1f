package api

import (
	"encoding/json"
	"time"

	"github.com/triage-ai/reftriage/internal/chread"
)

// --- POST /v1/resolve request/response ---

// ResolveRequest is the JSON body for POST /v1/resolve.
type ResolveRequest struct {
	Query          string         `json:"query"`
	Settings       map[string]any `json:"settings,omitempty"`
	IncludeContent bool           `json:"include_content,omitempty"`
}

// DocumentResp is one resolved document.
type DocumentResp struct {
	ID                 string  `json:"id"`
	Category           string  `json:"category"`
	Score              float64 `json:"score"`
	SourceRule         string  `json:"source_rule,omitempty"`
	NeedsClarification bool    `json:"needs_clarification"`
	Title              *string `json:"title,omitempty"`
	Content            *string `json:"content,omitempty"`
}

// ResolveResponse is the JSON body returned by POST /v1/resolve.
type ResolveResponse struct {
	RequestID          string         `json:"request_id"`
	Documents          []DocumentResp `json:"documents"`
	Category           string         `json:"category"`
	ContractStatus     string         `json:"contract_status"`
	ClarifyingQuestion *string        `json:"clarifying_question"`
	MissingSignals     []string       `json:"missing_signals"`
	Confidence         string         `json:"confidence"`
	Ambiguous          bool           `json:"ambiguous"`
	RulesVersion       string         `json:"rules_version"`
	LatencyMs          float64        `json:"latency_ms"`
}

// DocumentContentResp is the body of GET /v1/documents/{category}/{id}.
type DocumentContentResp struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutDocumentReq is the JSON body for PUT /api/reftriage/documents/{category}/{id}.
type PutDocumentReq struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// RulesResp is the body of GET /v1/rules.
type RulesResp struct {
	Version   string         `json:"version"`
	Rules     int            `json:"rules"`
	ByType    map[string]int `json:"by_type"`
	Roots     int            `json:"decision_roots"`
	Patterns  int            `json:"patterns"`
	Contracts int            `json:"contracts"`
	Fallback  []string       `json:"fallback"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/reftriage/projects.
type CreateProjectReq struct {
	Name          string          `json:"name"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	ResolvePolicy json.RawMessage `json:"resolve_policy,omitempty"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ProjectResp
	APIKey string `json:"api_key"`
}

// UpdateProjectReq is the JSON body for PATCH /api/reftriage/projects/{id}.
type UpdateProjectReq struct {
	Name          *string          `json:"name,omitempty"`
	Settings      *json.RawMessage `json:"settings,omitempty"`
	ResolvePolicy *json.RawMessage `json:"resolve_policy,omitempty"`
}

// ProjectResp is a project without its key material.
type ProjectResp struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	APIKeyPrefix  string          `json:"api_key_prefix"`
	Settings      json.RawMessage `json:"settings"`
	ResolvePolicy json.RawMessage `json:"resolve_policy"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Resolution events ---

// EventListResp is a page of resolution events.
type EventListResp struct {
	Events   []chread.EventRow `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
