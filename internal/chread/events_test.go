package chread

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestBuildFilter(t *testing.T) {
	blocked := "blocked"
	doc := "actors/actors"
	amb := true
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		params   ListEventsParams
		want     string
		wantArgs int
	}{
		{"project only", ListEventsParams{ProjectID: "p"}, "project_id = @project_id", 1},
		{
			"all filters",
			ListEventsParams{ProjectID: "p", ContractStatus: &blocked, DocumentID: &doc, Ambiguous: &amb, StartTime: &start},
			"project_id = @project_id AND contract_status = @contract_status AND has(document_ids, @document_id) AND ambiguous = @ambiguous AND timestamp >= @start_time",
			5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildFilter(tt.params)
			if where != tt.want {
				t.Errorf("where = %q\nwant    %q", where, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestSafeFloat(t *testing.T) {
	if safeFloat(math.NaN()) != 0 || safeFloat(math.Inf(1)) != 0 || safeFloat(2.5) != 2.5 {
		t.Error("safeFloat did not sanitize")
	}
}

func TestAnalyticsNormalize(t *testing.T) {
	var a AnalyticsResult
	a.normalize()
	body, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), "null") {
		t.Errorf("normalized analytics should not serialize null slices: %s", body)
	}
}
