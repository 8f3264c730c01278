// Package usage enforces project budgets and accumulates usage counters.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/store"
)

// Ledger reads daily counters for admission and records usage after
// dispatch. Admission is check-then-act over the counters: two concurrent
// requests can both pass against the same remaining budget, which keeps
// the hot path to a single read. Overruns are bounded by one request's
// worth of usage.
type Ledger struct {
	projects store.ProjectStore
	counters store.CounterStore
	log      *slog.Logger
}

func NewLedger(projects store.ProjectStore, counters store.CounterStore, log *slog.Logger) *Ledger {
	return &Ledger{projects: projects, counters: counters, log: log}
}

// CheckLimits admits or rejects a request against the project's daily
// budgets. A nil limit is unlimited. Monthly limits are configurable on
// the project but not enforced here.
func (l *Ledger) CheckLimits(ctx context.Context, projectID uuid.UUID, estTokens int, estCost decimal.Decimal) error {
	p, err := l.projects.Project(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return gwerr.NotFound(gwerr.CodeNotFound, "project %s not found", projectID)
		}
		return fmt.Errorf("usage: load project: %w", err)
	}
	if !p.Active {
		return gwerr.New(gwerr.KindAuthentication, gwerr.CodeInvalidRequest, "project is disabled")
	}

	if p.DailyTokenLimit == nil && p.DailyCostLimit == nil {
		return nil
	}

	counter, err := l.counters.ProjectCounter(ctx, projectID, store.Day(time.Now()))
	if err != nil {
		return fmt.Errorf("usage: load counter: %w", err)
	}

	if p.DailyTokenLimit != nil {
		projected := counter.Tokens + int64(estTokens)
		if projected > *p.DailyTokenLimit {
			return gwerr.New(gwerr.KindLimitExceeded, gwerr.CodeBudgetExceeded,
				"daily token budget exceeded: %d of %d used, request needs ~%d",
				counter.Tokens, *p.DailyTokenLimit, estTokens)
		}
	}
	if p.DailyCostLimit != nil {
		projected := counter.Cost.Add(estCost)
		if projected.GreaterThan(*p.DailyCostLimit) {
			return gwerr.New(gwerr.KindLimitExceeded, gwerr.CodeBudgetExceeded,
				"daily cost budget exceeded: %s of %s USD used, request needs ~%s",
				counter.Cost, *p.DailyCostLimit, estCost)
		}
	}
	return nil
}

// Record adds actual usage to today's project and provider counters. Both
// increments are attempted even if one fails.
func (l *Ledger) Record(ctx context.Context, projectID uuid.UUID, provider string, tokens int64, cost decimal.Decimal) error {
	day := store.Day(time.Now())
	return errors.Join(
		l.counters.AddProjectUsage(ctx, projectID, day, tokens, cost),
		l.counters.AddProviderUsage(ctx, provider, day, tokens, cost),
	)
}

// RecordAsync records usage on a detached context so a slow or failing
// store never delays or fails the response. Errors are logged and dropped.
func (l *Ledger) RecordAsync(base context.Context, projectID uuid.UUID, provider string, tokens int64, cost decimal.Decimal) {
	go func() {
		ctx, cancel := context.WithTimeout(base, 5*time.Second)
		defer cancel()
		if err := l.Record(ctx, projectID, provider, tokens, cost); err != nil {
			l.log.Error("usage_record_failed",
				slog.String("project_id", projectID.String()),
				slog.String("provider", provider),
				slog.Any("error", err),
			)
		}
	}()
}
