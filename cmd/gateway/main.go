// Command gateway runs the nulpoint AI gateway: one chat-completion API
// in front of OpenAI, Anthropic, Gemini and Groq.
//
// Callers send canonical requests naming either a concrete model or a
// capability tier (fast, balanced, thinking, best); the gateway resolves
// the model, enforces per-key rate limits and per-project daily budgets,
// and returns the completion with token usage and USD cost attached.
//
// Minimal run, no external services (in-memory store, slog request log):
//
//	OPENAI_API_KEY=sk-... ./gateway
//
// Production deployments set STORE_MODE=redis with REDIS_URL, and
// CLICKHOUSE_ADDR for request analytics. See .env.example for the full
// variable list.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/ai-gateway/internal/app"
	"github.com/nulpointcorp/ai-gateway/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// No logger yet; config errors go to stderr verbatim.
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("gateway stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger builds the JSON slog.Logger every subsystem shares. Unknown
// level strings fall back to INFO; source locations are attached only at
// debug level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
