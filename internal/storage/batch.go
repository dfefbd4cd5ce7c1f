package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
	flushTimeout  = 5 * time.Second
)

// FlushFunc persists one batch of events.
type FlushFunc func(ctx context.Context, events []*ResolutionEvent) error

// BatchWriter buffers events in memory and hands them to a FlushFunc from a
// single background goroutine, by size or by interval.
// Write() is non-blocking; events are dropped when the buffer is full.
type BatchWriter struct {
	flushFn   FlushFunc
	buffer    chan *ResolutionEvent
	done      chan struct{}
	flushed   chan struct{} // closed by flushLoop when it returns
	closeOnce sync.Once
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// BatchOptions overrides the writer's sizing. Zero fields keep the defaults.
type BatchOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	FlushBatch    int
}

// NewBatchWriter starts the background flush loop.
func NewBatchWriter(fn FlushFunc, opts BatchOptions, logger *zap.Logger) *BatchWriter {
	if opts.BufferSize <= 0 {
		opts.BufferSize = bufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = flushInterval
	}
	if opts.FlushBatch <= 0 {
		opts.FlushBatch = flushBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &BatchWriter{
		flushFn:   fn,
		buffer:    make(chan *ResolutionEvent, opts.BufferSize),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
		interval:  opts.FlushInterval,
		batchSize: opts.FlushBatch,
		logger:    logger,
	}
	go w.flushLoop()
	return w
}

// Write queues an event. Non-blocking: drops the event if the buffer is full.
func (w *BatchWriter) Write(event *ResolutionEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("event buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining events and waits for it
// to finish (up to drainTimeout). Safe to call more than once.
func (w *BatchWriter) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	<-w.flushed
}

func (w *BatchWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]*ResolutionEvent, 0, w.batchSize)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *BatchWriter) flush(events []*ResolutionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := w.flushFn(ctx, events); err != nil {
		w.logger.Error("event batch flush failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}
