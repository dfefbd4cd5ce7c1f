package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse resolution_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the resolution_events table.
type EventRow struct {
	RequestID          string    `json:"request_id"`
	ProjectID          string    `json:"project_id"`
	Timestamp          time.Time `json:"timestamp"`
	QueryPreview       string    `json:"query_preview"`
	SignalCount        uint32    `json:"signal_count"`
	DocumentIDs        []string  `json:"document_ids"`
	DocumentScores     []float32 `json:"document_scores"`
	TopCategory        string    `json:"top_category"`
	ContractStatus     string    `json:"contract_status"`
	MissingSignals     []string  `json:"missing_signals"`
	Confidence         string    `json:"confidence"`
	Ambiguous          bool      `json:"ambiguous"`
	ClarifyingQuestion string    `json:"clarifying_question,omitempty"`
	LatencyMs          float32   `json:"latency_ms"`
	Source             string    `json:"source"`
}

const eventColumns = "request_id, project_id, timestamp, query_preview, signal_count, " +
	"document_ids, document_scores, top_category, contract_status, missing_signals, " +
	"confidence, ambiguous, clarifying_question, latency_ms, source"

func scanEvent(row interface{ Scan(dest ...any) error }) (EventRow, error) {
	var e EventRow
	var ambiguous uint8
	err := row.Scan(
		&e.RequestID, &e.ProjectID, &e.Timestamp, &e.QueryPreview, &e.SignalCount,
		&e.DocumentIDs, &e.DocumentScores, &e.TopCategory, &e.ContractStatus, &e.MissingSignals,
		&e.Confidence, &ambiguous, &e.ClarifyingQuestion, &e.LatencyMs, &e.Source,
	)
	e.Ambiguous = ambiguous == 1
	return e, err
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	ProjectID      string
	ContractStatus *string
	Confidence     *string
	Category       *string
	DocumentID     *string // "category/id" present anywhere in the result
	Ambiguous      *bool
	StartTime      *time.Time
	EndTime        *time.Time
	Page           int
	PageSize       int
}

// buildFilter turns the params into a WHERE clause and its named args.
func buildFilter(params ListEventsParams) (string, []any) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	if params.ContractStatus != nil {
		conditions = append(conditions, "contract_status = @contract_status")
		args = append(args, clickhouse.Named("contract_status", *params.ContractStatus))
	}
	if params.Confidence != nil {
		conditions = append(conditions, "confidence = @confidence")
		args = append(args, clickhouse.Named("confidence", *params.Confidence))
	}
	if params.Category != nil {
		conditions = append(conditions, "top_category = @category")
		args = append(args, clickhouse.Named("category", *params.Category))
	}
	if params.DocumentID != nil {
		conditions = append(conditions, "has(document_ids, @document_id)")
		args = append(args, clickhouse.Named("document_id", *params.DocumentID))
	}
	if params.Ambiguous != nil {
		var v uint8
		if *params.Ambiguous {
			v = 1
		}
		conditions = append(conditions, "ambiguous = @ambiguous")
		args = append(args, clickhouse.Named("ambiguous", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered resolution events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	where, args := buildFilter(params)
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM resolution_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM resolution_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []EventRow{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by project ID and request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+eventColumns+" FROM resolution_events "+
			"WHERE project_id = @project_id AND request_id = @request_id LIMIT 1",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// ClickHouse doesn't return sql.ErrNoRows, so check for an empty result.
	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEvent(rows)
	if err != nil {
		return nil, fmt.Errorf("GetEvent scan: %w", err)
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	TotalResolutions int `json:"total_resolutions"`
	Blocked          int `json:"blocked"`
	LowConfidence    int `json:"low_confidence"`
	Ambiguous        int `json:"ambiguous"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// CategoryCount holds a category and its count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DocumentCount holds a document id and how often it was returned.
type DocumentCount struct {
	DocumentID string `json:"document_id"`
	Count      int    `json:"count"`
}

// SignalCount holds a missing signal and how often it blocked a resolution.
type SignalCount struct {
	Signal string `json:"signal"`
	Count  int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary             SummaryStats       `json:"summary"`
	ResolutionsOverTime []TimeSeriesBucket `json:"resolutions_over_time"`
	TopCategories       []CategoryCount    `json:"top_categories"`
	TopDocuments        []DocumentCount    `json:"top_documents"`
	TopMissingSignals   []SignalCount      `json:"top_missing_signals"`
	LatencyPercentiles  LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics for a project over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	var total, blocked, low, ambiguous uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), "+
			"countIf(contract_status = 'blocked'), "+
			"countIf(confidence = 'low'), "+
			"countIf(ambiguous = 1) "+
			"FROM resolution_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &blocked, &low, &ambiguous)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalResolutions: int(total),
		Blocked:          int(blocked),
		LowConfidence:    int(low),
		Ambiguous:        int(ambiguous),
	}

	if err := r.collect(ctx, "resolutions_over_time",
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM resolution_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs, func(rows driver.Rows) error {
			var hour time.Time
			var count uint64
			if err := rows.Scan(&hour, &count); err != nil {
				return err
			}
			result.ResolutionsOverTime = append(result.ResolutionsOverTime, TimeSeriesBucket{
				Hour: hour.Format(time.RFC3339), Count: int(count),
			})
			return nil
		}); err != nil {
		return nil, err
	}

	if err := r.collect(ctx, "top_categories",
		"SELECT top_category, count() as count "+
			"FROM resolution_events "+
			"WHERE project_id = @project_id AND top_category != '' "+
			"AND timestamp >= @range_start "+
			"GROUP BY top_category ORDER BY count DESC LIMIT 10",
		baseArgs, func(rows driver.Rows) error {
			var cat string
			var count uint64
			if err := rows.Scan(&cat, &count); err != nil {
				return err
			}
			result.TopCategories = append(result.TopCategories, CategoryCount{Category: cat, Count: int(count)})
			return nil
		}); err != nil {
		return nil, err
	}

	if err := r.collect(ctx, "top_documents",
		"SELECT arrayJoin(document_ids) as document_id, count() as count "+
			"FROM resolution_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start "+
			"GROUP BY document_id ORDER BY count DESC LIMIT 10",
		baseArgs, func(rows driver.Rows) error {
			var id string
			var count uint64
			if err := rows.Scan(&id, &count); err != nil {
				return err
			}
			result.TopDocuments = append(result.TopDocuments, DocumentCount{DocumentID: id, Count: int(count)})
			return nil
		}); err != nil {
		return nil, err
	}

	if err := r.collect(ctx, "top_missing_signals",
		"SELECT arrayJoin(missing_signals) as signal, count() as count "+
			"FROM resolution_events "+
			"WHERE project_id = @project_id AND contract_status = 'blocked' "+
			"AND timestamp >= @range_start "+
			"GROUP BY signal ORDER BY count DESC LIMIT 10",
		baseArgs, func(rows driver.Rows) error {
			var sig string
			var count uint64
			if err := rows.Scan(&sig, &count); err != nil {
				return err
			}
			result.TopMissingSignals = append(result.TopMissingSignals, SignalCount{Signal: sig, Count: int(count)})
			return nil
		}); err != nil {
		return nil, err
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms), "+
			"quantile(0.95)(latency_ms), "+
			"quantile(0.99)(latency_ms) "+
			"FROM resolution_events "+
			"WHERE project_id = @project_id AND timestamp >= @day_start",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	result.normalize()
	return result, nil
}

// collect runs a query and feeds each row to scan.
func (r *Reader) collect(ctx context.Context, name, query string, args []any, scan func(driver.Rows) error) error {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("GetAnalytics %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("GetAnalytics %s scan: %w", name, err)
		}
	}
	return rows.Err()
}

// normalize makes slices non-nil for JSON serialization.
func (a *AnalyticsResult) normalize() {
	if a.ResolutionsOverTime == nil {
		a.ResolutionsOverTime = []TimeSeriesBucket{}
	}
	if a.TopCategories == nil {
		a.TopCategories = []CategoryCount{}
	}
	if a.TopDocuments == nil {
		a.TopDocuments = []DocumentCount{}
	}
	if a.TopMissingSignals == nil {
		a.TopMissingSignals = []SignalCount{}
	}
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
