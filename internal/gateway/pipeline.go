// Package gateway orchestrates a chat-completion request end to end:
// validation, model resolution, budget admission, upstream dispatch,
// response enrichment and asynchronous usage recording.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/pricing"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/registry"
	"github.com/nulpointcorp/ai-gateway/internal/reqlog"
	"github.com/nulpointcorp/ai-gateway/internal/tokens"
	"github.com/nulpointcorp/ai-gateway/internal/usage"
)

// Context identifies the authenticated caller for one request.
type Context struct {
	ProjectID       uuid.UUID
	APIKeyID        uuid.UUID
	DefaultProvider string
}

// Options configures a Pipeline. Registry, Estimator, Costs, Ledger and
// Adapters are required; Metrics and ReqLog are optional and skipped when
// nil.
type Options struct {
	Registry  *registry.Registry
	Estimator *tokens.Estimator
	Costs     *pricing.Calculator
	Ledger    *usage.Ledger
	Adapters  map[string]providers.ChatProvider
	ReqLog    *reqlog.Logger
	Metrics   *metrics.Registry
	Log       *slog.Logger

	// BaseCtx parents the detached contexts used for fire-and-forget
	// usage recording; cancelling it on shutdown stops those writes.
	BaseCtx context.Context

	// UpstreamTimeout overrides providers.UpstreamTimeout when positive.
	UpstreamTimeout time.Duration
}

type Pipeline struct {
	registry  *registry.Registry
	estimator *tokens.Estimator
	costs     *pricing.Calculator
	ledger    *usage.Ledger
	adapters  map[string]providers.ChatProvider
	reqLog    *reqlog.Logger
	metrics   *metrics.Registry
	log       *slog.Logger

	baseCtx         context.Context
	upstreamTimeout time.Duration
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Registry == nil || opts.Estimator == nil || opts.Costs == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("gateway: registry, estimator, costs and ledger are required")
	}
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("gateway: at least one provider adapter is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.BaseCtx == nil {
		opts.BaseCtx = context.Background()
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = providers.UpstreamTimeout
	}

	return &Pipeline{
		registry:        opts.Registry,
		estimator:       opts.Estimator,
		costs:           opts.Costs,
		ledger:          opts.Ledger,
		adapters:        opts.Adapters,
		reqLog:          opts.ReqLog,
		metrics:         opts.Metrics,
		log:             opts.Log,
		baseCtx:         opts.BaseCtx,
		upstreamTimeout: opts.UpstreamTimeout,
	}, nil
}

// Complete runs one chat request through the pipeline and returns the
// enriched canonical response.
func (p *Pipeline) Complete(ctx context.Context, gctx Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	cfg, err := p.registry.Resolve(req, gctx.DefaultProvider)
	if err != nil {
		return nil, err
	}

	resp, err := p.dispatch(ctx, gctx, req, cfg)
	latency := time.Since(start)

	if err != nil {
		gerr := gwerr.From(err)
		p.logEntry(gctx, req, cfg, nil, latency, gerr)
		if p.metrics != nil {
			p.metrics.RecordRequest(cfg.Provider, "error", latency)
		}
		p.log.Warn("request_failed",
			slog.String("project_id", gctx.ProjectID.String()),
			slog.String("model", cfg.ID),
			slog.String("provider", cfg.Provider),
			slog.String("code", gerr.Code),
			slog.Int64("latency_ms", latency.Milliseconds()),
		)
		return nil, gerr
	}

	p.logEntry(gctx, req, cfg, resp, latency, nil)
	if p.metrics != nil {
		p.metrics.RecordRequest(cfg.Provider, "success", latency)
		p.metrics.AddTokens(cfg.Provider, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if resp.Cost != nil {
			p.metrics.AddCost(cfg.Provider, resp.Cost.Total.InexactFloat64())
		}
	}
	p.log.Info("request_completed",
		slog.String("project_id", gctx.ProjectID.String()),
		slog.String("model", cfg.ID),
		slog.String("provider", cfg.Provider),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Int64("latency_ms", latency.Milliseconds()),
	)
	return resp, nil
}

func (p *Pipeline) dispatch(ctx context.Context, gctx Context, req *providers.ChatRequest, cfg registry.ModelConfig) (*providers.ChatResponse, error) {
	estTokens := p.estimator.EstimateMessages(req.Messages)
	estCost := p.costs.EstimateInput(estTokens, cfg)

	if err := p.ledger.CheckLimits(ctx, gctx.ProjectID, estTokens, estCost); err != nil {
		if p.metrics != nil {
			p.metrics.RecordAdmission("denied")
		}
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordAdmission("allowed")
	}

	adapter, ok := p.adapters[cfg.Provider]
	if !ok {
		return nil, gwerr.Invalid(gwerr.CodeUnknownProvider,
			"no adapter configured for provider %q", cfg.Provider)
	}

	// The adapter sees the resolved model, not the capability alias.
	upReq := *req
	upReq.Model = cfg.ID

	upCtx, cancel := context.WithTimeout(ctx, p.upstreamTimeout)
	defer cancel()

	upStart := time.Now()
	resp, err := adapter.Chat(upCtx, &upReq, gctx.ProjectID)
	if p.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		p.metrics.ObserveUpstream(cfg.Provider, outcome, time.Since(upStart))
	}
	if err != nil {
		return nil, err
	}

	p.enrich(resp, cfg)

	p.ledger.RecordAsync(p.baseCtx, gctx.ProjectID, cfg.Provider,
		int64(resp.Usage.TotalTokens), resp.Cost.Total)

	return resp, nil
}

// enrich fills the envelope fields the adapters may leave blank and
// attaches the billed cost.
func (p *Pipeline) enrich(resp *providers.ChatResponse, cfg registry.ModelConfig) {
	if resp.ID == "" {
		resp.ID = providers.NewResponseID()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Model == "" {
		resp.Model = cfg.ID
	}
	resp.Provider = cfg.Provider
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	cost := p.costs.Calculate(resp.Usage, cfg.ID)
	resp.Cost = &cost
}

func (p *Pipeline) logEntry(gctx Context, req *providers.ChatRequest, cfg registry.ModelConfig, resp *providers.ChatResponse, latency time.Duration, gerr *gwerr.Error) {
	if p.reqLog == nil {
		return
	}

	capability := ""
	if req.Model == "" {
		capability = strings.ToLower(req.Capability)
	}

	entry := reqlog.Entry{
		ID:         uuid.New(),
		ProjectID:  gctx.ProjectID,
		APIKeyID:   gctx.APIKeyID,
		Provider:   cfg.Provider,
		Model:      cfg.ID,
		Capability: capability,
		LatencyMs:  latency.Milliseconds(),
		Status:     "success",
	}
	if resp != nil {
		entry.InputTokens = resp.Usage.PromptTokens
		entry.OutputTokens = resp.Usage.CompletionTokens
		entry.ThinkingTokens = resp.Usage.ThinkingTokens
		if resp.Cost != nil {
			entry.CostUSD = resp.Cost.Total
		}
	}
	if gerr != nil {
		entry.Status = "error"
		entry.ErrorCode = gerr.Code
		entry.ErrorMessage = gerr.Message
	}
	p.reqLog.Log(entry)
}

func validate(req *providers.ChatRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return gwerr.Invalid(gwerr.CodeInvalidRequest, "messages must not be empty")
	}
	if strings.TrimSpace(req.Model) == "" && strings.TrimSpace(req.Capability) == "" {
		return gwerr.Invalid(gwerr.CodeInvalidRequest, "either model or capability is required")
	}
	for i, m := range req.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return gwerr.Invalid(gwerr.CodeInvalidRequest, "message %d has no role", i)
		}
		if strings.TrimSpace(m.Content) == "" {
			return gwerr.Invalid(gwerr.CodeInvalidRequest, "message %d has no content", i)
		}
	}
	if req.MaxTokens < 0 {
		return gwerr.Invalid(gwerr.CodeInvalidRequest, "max_tokens must not be negative")
	}
	return nil
}
