// Package server exposes the gateway over HTTP: the chat-completion
// endpoint plus health, readiness and metrics routes, with
// authentication and per-key rate limiting applied as middleware.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/internal/store"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

const (
	serverReadTimeout  = 60 * time.Second
	serverWriteTimeout = 60 * time.Second
)

// Options configures a Server. Pipeline, Keys, Projects and Limiter are
// required; Metrics and Ping are optional.
type Options struct {
	Pipeline *gateway.Pipeline
	Keys     store.APIKeyStore
	Projects store.ProjectStore
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Registry
	Log      *slog.Logger

	// Ping reports backing-store health for the readiness endpoint.
	Ping func(ctx context.Context) error

	CORSOrigins []string
}

type Server struct {
	pipeline *gateway.Pipeline
	keys     store.APIKeyStore
	projects store.ProjectStore
	limiter  *ratelimit.Limiter
	metrics  *metrics.Registry
	log      *slog.Logger
	ping     func(ctx context.Context) error
	cors     []string

	srv *fasthttp.Server
}

func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline is required")
	}
	if opts.Keys == nil || opts.Projects == nil {
		return nil, fmt.Errorf("server: key and project stores are required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("server: rate limiter is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Server{
		pipeline: opts.Pipeline,
		keys:     opts.Keys,
		projects: opts.Projects,
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
		log:      opts.Log,
		ping:     opts.Ping,
		cors:     opts.CORSOrigins,
	}, nil
}

// Handler builds the routed and middleware-wrapped request handler.
// Exposed separately from Start so tests can drive it in memory.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions",
		applyMiddleware(s.handleChat, s.authenticate, s.admitRate))
	r.GET("/health", s.handleHealth)
	r.GET("/readyz", s.handleReadiness)
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		s.recovery,
		requestID,
		s.timing,
		corsHandler(s.cors),
		securityHeaders,
	)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		Name:         "ai-gateway",
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}
	s.log.Info("http_server_listening", slog.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

// chatResponse is the wire shape of a completion. It mirrors the
// canonical response but serialises costs as JSON numbers.
type chatResponse struct {
	ID       string             `json:"id"`
	Object   string             `json:"object"`
	Created  int64              `json:"created"`
	Model    string             `json:"model"`
	Provider string             `json:"provider"`
	Choices  []providers.Choice `json:"choices"`
	Usage    providers.Usage    `json:"usage"`
	Cost     *costJSON          `json:"cost,omitempty"`
}

type costJSON struct {
	Input    float64 `json:"input"`
	Output   float64 `json:"output"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

func (s *Server) handleChat(ctx *fasthttp.RequestCtx) {
	caller, ok := ctx.UserValue(callerContextKey).(gateway.Context)
	if !ok {
		apierr.WriteUnauthorized(ctx, "missing bearer token")
		return
	}

	var req providers.ChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteError(ctx, gwerr.Invalid(gwerr.CodeInvalidRequest,
			"malformed request body: %v", err))
		return
	}
	// The stream flag is accepted but ignored; responses are always
	// returned whole.
	resp, err := s.pipeline.Complete(ctx, caller, &req)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}

	out := chatResponse{
		ID:       resp.ID,
		Object:   "chat.completion",
		Created:  resp.Created,
		Model:    resp.Model,
		Provider: resp.Provider,
		Choices:  resp.Choices,
		Usage:    resp.Usage,
	}
	if resp.Cost != nil {
		out.Cost = &costJSON{
			Input:    resp.Cost.Input.InexactFloat64(),
			Output:   resp.Cost.Output.InexactFloat64(),
			Total:    resp.Cost.Total.InexactFloat64(),
			Currency: resp.Cost.Currency,
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness checks the backing store so load balancers stop
// routing before the gateway loses its state.
func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.ping != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.ping(pingCtx); err != nil {
			writeJSON(ctx, fasthttp.StatusServiceUnavailable,
				map[string]string{"status": "unavailable", "reason": err.Error()})
			return
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
