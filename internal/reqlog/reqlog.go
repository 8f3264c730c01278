// Package reqlog implements a non-blocking, batched request log.
//
// Entries are written to an internal buffered channel and flushed to a
// Sink in batches by a background goroutine, so recording never blocks the
// request hot path. If the channel fills up (> 10 000 entries), new
// entries are dropped and counted in Dropped.
package reqlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
	flushTimeout  = 10 * time.Second
)

// Entry is one completed (or failed) gateway request.
type Entry struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	APIKeyID       uuid.UUID
	Provider       string
	Model          string
	Capability     string
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
	CostUSD        decimal.Decimal
	LatencyMs      int64
	Status         string
	ErrorCode      string
	ErrorMessage   string
	CreatedAt      time.Time
}

// Sink receives flushed batches. Implementations must be safe for use by
// the single flusher goroutine.
type Sink interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

type Logger struct {
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	sink    Sink
	baseCtx context.Context
	log     *slog.Logger
}

func New(ctx context.Context, sink Sink, log *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("reqlog: context must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("reqlog: sink must not be nil")
	}

	l := &Logger{
		ch:      make(chan Entry, channelBuffer),
		done:    make(chan struct{}),
		sink:    sink,
		baseCtx: ctx,
		log:     log,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues an entry. Never blocks; the entry is dropped when the
// buffer is full.
func (l *Logger) Log(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

func (l *Logger) Dropped() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Close drains buffered entries, flushes them and stops the flusher.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(l.baseCtx, flushTimeout)
		if err := l.sink.WriteBatch(ctx, batch); err != nil {
			l.log.Error("reqlog_flush_failed",
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err),
			)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// SlogSink writes entries to structured logs. It is the default sink when
// no analytics store is configured.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) WriteBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		s.log.InfoContext(ctx, "request",
			slog.String("id", e.ID.String()),
			slog.String("project_id", e.ProjectID.String()),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.String("capability", e.Capability),
			slog.Int("input_tokens", e.InputTokens),
			slog.Int("output_tokens", e.OutputTokens),
			slog.Int("thinking_tokens", e.ThinkingTokens),
			slog.String("cost_usd", e.CostUSD.String()),
			slog.Int64("latency_ms", e.LatencyMs),
			slog.String("status", e.Status),
			slog.String("error_code", e.ErrorCode),
			slog.Time("created_at", e.CreatedAt),
		)
	}
	return nil
}
