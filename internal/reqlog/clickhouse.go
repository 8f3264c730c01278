package reqlog

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const insertRequests = `INSERT INTO gateway_requests (
	id, project_id, api_key_id, provider, model, capability,
	input_tokens, output_tokens, thinking_tokens, cost_usd,
	latency_ms, status, error_code, error_message, created_at
)`

// ClickHouseSink writes request batches to the gateway_requests table for
// analytics queries (per-project spend, model mix, error rates).
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink opens a native-protocol connection and verifies it
// with a ping.
func NewClickHouseSink(ctx context.Context, addr, database, username, password string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reqlog: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("reqlog: clickhouse ping: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) WriteBatch(ctx context.Context, entries []Entry) error {
	batch, err := s.conn.PrepareBatch(ctx, insertRequests)
	if err != nil {
		return fmt.Errorf("reqlog: prepare batch: %w", err)
	}
	for _, e := range entries {
		err := batch.Append(
			e.ID.String(),
			e.ProjectID.String(),
			e.APIKeyID.String(),
			e.Provider,
			e.Model,
			e.Capability,
			uint32(e.InputTokens),
			uint32(e.OutputTokens),
			uint32(e.ThinkingTokens),
			e.CostUSD.InexactFloat64(),
			uint32(e.LatencyMs),
			e.Status,
			e.ErrorCode,
			e.ErrorMessage,
			e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("reqlog: append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("reqlog: send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
