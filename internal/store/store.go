// Package store persists gateway control-plane state: projects, API keys,
// daily usage counters and encrypted provider credentials. Two
// implementations exist, Redis for deployments and an in-memory twin for
// development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for lookups of absent projects or API keys.
var ErrNotFound = errors.New("store: not found")

// CounterRetention bounds how long per-day usage counters are kept.
const CounterRetention = 90 * 24 * time.Hour

type (
	// Project is a tenant with optional spend limits. Nil limits mean
	// unlimited. Monthly limits are stored for reporting; only daily
	// limits participate in admission.
	Project struct {
		ID                uuid.UUID
		Name              string
		DefaultProvider   string
		DailyTokenLimit   *int64
		DailyCostLimit    *decimal.Decimal
		MonthlyTokenLimit *int64
		MonthlyCostLimit  *decimal.Decimal
		Active            bool
	}

	// APIKey is a client credential. Keys are stored and looked up by the
	// SHA-256 hex digest of the raw key, never by the key itself.
	APIKey struct {
		ID           uuid.UUID
		ProjectID    uuid.UUID
		Name         string
		RateLimitRPM int
		Active       bool
	}

	// Counter is an accumulated usage tally for one (scope, day) pair.
	Counter struct {
		Tokens   int64
		Cost     decimal.Decimal
		Requests int64
	}
)

// Day formats t as the UTC calendar day used as the counter bucket key.
func Day(t time.Time) string { return t.UTC().Format("2006-01-02") }

type ProjectStore interface {
	Project(ctx context.Context, id uuid.UUID) (*Project, error)
	SaveProject(ctx context.Context, p *Project) error
}

type APIKeyStore interface {
	// APIKeyByHash looks a key up by the SHA-256 hex digest of its raw value.
	APIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	SaveAPIKey(ctx context.Context, k *APIKey, hash string) error
}

type CounterStore interface {
	ProjectCounter(ctx context.Context, projectID uuid.UUID, day string) (Counter, error)
	AddProjectUsage(ctx context.Context, projectID uuid.UUID, day string, tokens int64, cost decimal.Decimal) error
	AddProviderUsage(ctx context.Context, provider, day string, tokens int64, cost decimal.Decimal) error
}

type CredentialStore interface {
	// Credential returns the stored ciphertext blob, or "" when none exists.
	Credential(ctx context.Context, projectID uuid.UUID, provider string) (string, error)
	SetCredential(ctx context.Context, projectID uuid.UUID, provider, blob string) error
	DeleteCredential(ctx context.Context, projectID uuid.UUID, provider string) error
}

// Store is the full persistence surface the app wires together.
type Store interface {
	ProjectStore
	APIKeyStore
	CounterStore
	CredentialStore

	Ping(ctx context.Context) error
	Close() error
}

// costToMicro converts a 6dp USD amount to integer micro-dollars so
// counter increments stay exact under concurrent updates.
func costToMicro(cost decimal.Decimal) int64 {
	return cost.Shift(6).Round(0).IntPart()
}

func microToCost(micro int64) decimal.Decimal {
	return decimal.New(micro, -6)
}
