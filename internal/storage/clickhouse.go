package storage

import (
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

//go:embed clickhouse_schema.sql
var clickhouseSchema string

// ClickHouseWriter writes resolution events to ClickHouse asynchronously
// through a BatchWriter.
type ClickHouseWriter struct {
	*BatchWriter
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseWriter connects, creates the resolution_events table if
// needed, and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}

	// ClickHouse Cloud requires TLS; ParseDSN only sets it for ?secure=true.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	if err := conn.Exec(ctx, clickhouseSchema); err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter schema: %w", err)
	}

	w := &ClickHouseWriter{conn: conn, logger: logger}
	w.BatchWriter = NewBatchWriter(w.insert, BatchOptions{}, logger)
	return w, nil
}

// Close drains buffered events and closes the connection.
func (w *ClickHouseWriter) Close() {
	w.BatchWriter.Close()
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (w *ClickHouseWriter) insert(ctx context.Context, events []*ResolutionEvent) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO resolution_events (
			request_id, project_id, timestamp,
			query_preview, query_hash, signal_count,
			document_ids, document_scores, top_category,
			contract_status, missing_signals, confidence, ambiguous,
			clarifying_question, latency_ms, source
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		var ambiguous uint8
		if e.Ambiguous {
			ambiguous = 1
		}
		if err := batch.Append(
			e.RequestID,
			e.ProjectID,
			e.Timestamp,
			e.QueryPreview,
			e.QueryHash,
			e.SignalCount,
			e.DocumentIDs,
			e.DocumentScores,
			e.TopCategory,
			e.ContractStatus,
			e.MissingSignals,
			e.Confidence,
			ambiguous,
			e.ClarifyingQuestion,
			e.LatencyMs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *ResolutionEvent) {
	w.logger.Info("resolution_event",
		zap.String("request_id", event.RequestID),
		zap.String("project_id", event.ProjectID),
		zap.String("query_hash", event.QueryHash),
		zap.Uint32("signal_count", event.SignalCount),
		zap.Strings("document_ids", event.DocumentIDs),
		zap.String("top_category", event.TopCategory),
		zap.String("contract_status", event.ContractStatus),
		zap.Strings("missing_signals", event.MissingSignals),
		zap.String("confidence", event.Confidence),
		zap.Bool("ambiguous", event.Ambiguous),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("source", event.Source),
	)
}

func (w *LogWriter) Close() {}
