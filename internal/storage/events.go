package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/triage-ai/reftriage/internal/engine"
)

// EventWriter persists resolution events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ResolutionEvent)
	Close()
}

// ResolutionEvent records the outcome of one resolve call.
type ResolutionEvent struct {
	RequestID          string
	ProjectID          string
	Timestamp          time.Time
	QueryPreview       string // First 500 runes
	QueryHash          string // SHA256 of the full query
	SignalCount        uint32
	DocumentIDs        []string // "category/id", in result order
	DocumentScores     []float32
	TopCategory        string
	ContractStatus     string
	MissingSignals     []string
	Confidence         string
	Ambiguous          bool
	ClarifyingQuestion string
	LatencyMs          float32
	Source             string // "http", "grpc" or "cli"
}

// QueryPreviewLength is the max runes stored in query_preview.
const QueryPreviewLength = 500

// TruncateQuery returns the first maxLen runes of a query for preview
// storage. It never splits a multi-byte UTF-8 character.
func TruncateQuery(query string, maxLen int) string {
	n := 0
	for i := range query {
		if n == maxLen {
			return query[:i]
		}
		n++
	}
	return query
}

// HashQuery returns the hex SHA-256 of the query text.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// NewResolutionEvent builds the event for a finished resolution.
func NewResolutionEvent(requestID, projectID, query, source string, result engine.ResolutionResult, latency time.Duration) *ResolutionEvent {
	e := &ResolutionEvent{
		RequestID:          requestID,
		ProjectID:          projectID,
		Timestamp:          time.Now().UTC(),
		QueryPreview:       TruncateQuery(query, QueryPreviewLength),
		QueryHash:          HashQuery(query),
		SignalCount:        uint32(result.SignalCount),
		DocumentIDs:        make([]string, len(result.Documents)),
		DocumentScores:     make([]float32, len(result.Documents)),
		TopCategory:        result.Category,
		ContractStatus:     result.ContractStatus.String(),
		MissingSignals:     result.MissingSignals,
		Confidence:         result.Confidence.String(),
		Ambiguous:          result.Ambiguous,
		ClarifyingQuestion: result.ClarifyingQuestion,
		LatencyMs:          float32(latency.Microseconds()) / 1000,
		Source:             source,
	}
	for i, d := range result.Documents {
		e.DocumentIDs[i] = d.Document.String()
		e.DocumentScores[i] = float32(d.Score)
	}
	if e.MissingSignals == nil {
		e.MissingSignals = []string{}
	}
	return e
}
