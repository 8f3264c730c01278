package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/ai-gateway/internal/credentials"
	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/pricing"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	anthropicprov "github.com/nulpointcorp/ai-gateway/internal/providers/anthropic"
	geminiprov "github.com/nulpointcorp/ai-gateway/internal/providers/gemini"
	openaicompatprov "github.com/nulpointcorp/ai-gateway/internal/providers/openaicompat"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/internal/registry"
	"github.com/nulpointcorp/ai-gateway/internal/reqlog"
	"github.com/nulpointcorp/ai-gateway/internal/server"
	"github.com/nulpointcorp/ai-gateway/internal/store"
	"github.com/nulpointcorp/ai-gateway/internal/tokens"
	"github.com/nulpointcorp/ai-gateway/internal/usage"
)

// initStore connects the backing store. Redis is only required when
// STORE_MODE=redis; the in-process store needs no external services.
func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Mode {
	case "redis":
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.st = store.NewRedis(rdb)
		a.log.Info("redis connected")

	case "memory":
		a.st = store.NewMemory()
		a.log.Info("store backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown store mode: %s", a.cfg.Store.Mode)
	}

	a.projects = store.NewCachedProjects(a.st, a.cfg.ProjectCacheTTL)
	return nil
}

// initServices creates the credential layer, the Prometheus registry and
// the async request log.
func (a *App) initServices(ctx context.Context) error {
	if a.cfg.EncryptionKey != "" {
		cipher, err := credentials.NewCipher(a.cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
		a.creds = credentials.NewService(a.st, cipher, a.log)
		a.log.Info("per-project credentials enabled")
	} else {
		a.log.Info("ENCRYPTION_KEY not set; using global provider keys only")
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	var sink reqlog.Sink
	if a.cfg.ClickHouse.Addr != "" {
		ch, err := reqlog.NewClickHouseSink(ctx,
			a.cfg.ClickHouse.Addr,
			a.cfg.ClickHouse.Database,
			a.cfg.ClickHouse.Username,
			a.cfg.ClickHouse.Password,
		)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.chSink = ch
		sink = ch
		a.log.Info("request log sink: clickhouse", slog.String("addr", a.cfg.ClickHouse.Addr))
	} else {
		sink = reqlog.NewSlogSink(a.log)
		a.log.Info("request log sink: slog")
	}

	rl, err := reqlog.New(a.baseCtx, sink, a.log)
	if err != nil {
		return fmt.Errorf("reqlog: %w", err)
	}
	a.reqLog = rl

	return nil
}

// initAdapters builds the upstream adapter map. A provider is registered
// when it has a global key, or when the credential layer is enabled and
// projects may carry their own keys for it.
func (a *App) initAdapters(ctx context.Context) error {
	var keys providers.KeySource
	if a.creds != nil {
		keys = a.creds
	}

	adapters := make(map[string]providers.ChatProvider)
	enabled := func(globalKey string) bool {
		return globalKey != "" || keys != nil
	}

	if enabled(a.cfg.OpenAI.APIKey) {
		adapters["openai"] = openaicompatprov.New("openai",
			a.cfg.OpenAI.APIKey, a.cfg.OpenAI.BaseURL, keys)
	}
	if enabled(a.cfg.Groq.APIKey) {
		adapters["groq"] = openaicompatprov.New("groq",
			a.cfg.Groq.APIKey, a.cfg.Groq.BaseURL, keys)
	}
	if enabled(a.cfg.Anthropic.APIKey) {
		var opts []anthropicprov.Option
		if a.cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicprov.WithBaseURL(a.cfg.Anthropic.BaseURL))
		}
		adapters["anthropic"] = anthropicprov.New(a.cfg.Anthropic.APIKey, keys, opts...)
	}
	if enabled(a.cfg.Gemini.APIKey) {
		var opts []geminiprov.Option
		if a.cfg.Gemini.BaseURL != "" {
			opts = append(opts, geminiprov.WithBaseURL(a.cfg.Gemini.BaseURL))
		}
		p, err := geminiprov.New(ctx, a.cfg.Gemini.APIKey, keys, opts...)
		switch {
		case err != nil && a.cfg.Gemini.APIKey != "":
			return fmt.Errorf("gemini: %w", err)
		case err != nil:
			// No global key; project credentials alone can't bootstrap the
			// client, so the provider stays disabled.
			a.log.Warn("gemini adapter disabled", slog.String("error", err.Error()))
		default:
			adapters["gemini"] = p
		}
	}

	if len(adapters) == 0 {
		return fmt.Errorf("no provider adapters configured")
	}

	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	a.log.Info("adapters loaded", slog.Any("providers", names))

	a.adapters = adapters
	return nil
}

// initGateway assembles the request pipeline and the HTTP server.
func (a *App) initGateway(_ context.Context) error {
	reg := registry.New()

	est, err := tokens.NewEstimator()
	if err != nil {
		return fmt.Errorf("tokenizer: %w", err)
	}

	pipeline, err := gateway.NewPipeline(gateway.Options{
		Registry:        reg,
		Estimator:       est,
		Costs:           pricing.NewCalculator(reg),
		Ledger:          usage.NewLedger(a.projects, a.st, a.log),
		Adapters:        a.adapters,
		ReqLog:          a.reqLog,
		Metrics:         a.prom,
		Log:             a.log,
		BaseCtx:         a.baseCtx,
		UpstreamTimeout: a.cfg.ProviderTimeout,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	srv, err := server.New(server.Options{
		Pipeline:    pipeline,
		Keys:        a.st,
		Projects:    a.projects,
		Limiter:     ratelimit.NewLimiter(a.cfg.RateLimit.DefaultRPM),
		Metrics:     a.prom,
		Log:         a.log,
		Ping:        a.st.Ping,
		CORSOrigins: a.cfg.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	a.srv = srv
	return nil
}
