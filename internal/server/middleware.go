package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/store"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

const callerContextKey = "gateway_caller"

// recovery catches panics in any handler and returns a 500 without
// crashing the server process.
func (s *Server) recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
				)
				ctx.ResetBody()
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"error":{"message":"internal server error","type":"server_error","code":"internal_error"}}`)
			}
		}()
		next(ctx)
	}
}

// requestID ensures every request carries an X-Request-ID header,
// generating a UUID when the client sends none.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set("X-Request-ID", id)
		ctx.SetUserValue("request_id", id)
		next(ctx)
	}
}

// timing records duration in the X-Response-Time header and feeds the
// per-route HTTP metrics.
func (s *Server) timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		if s.metrics != nil {
			s.metrics.IncInFlight()
		}
		next(ctx)
		dur := time.Since(start)
		ctx.Response.Header.Set("X-Response-Time", dur.String())
		if s.metrics != nil {
			s.metrics.DecInFlight()
			s.metrics.ObserveHTTP(string(ctx.Path()), ctx.Response.StatusCode(), dur)
		}
	}
}

// securityHeaders adds standard hardening headers. The gateway serves no
// HTML, so the CSP denies everything.
func securityHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		h := &ctx.Response.Header
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
	}
}

// corsHandler returns a CORS middleware for the given allowed origins.
// nil or ["*"] opens the gateway to any origin; OPTIONS preflights are
// answered with 204.
func corsHandler(origins []string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	origin := "*"
	if len(origins) > 0 && !(len(origins) == 1 && origins[0] == "*") {
		origin = strings.Join(origins, ", ")
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")

			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// HashAPIKey returns the SHA-256 hex digest under which raw gateway keys
// are stored.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// authenticate resolves "Authorization: Bearer <key>" to a caller context
// and stashes it in the request. Unknown, inactive or missing keys get a
// 401 before any routing work happens.
func (s *Server) authenticate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		auth := string(ctx.Request.Header.Peek("Authorization"))
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || raw == "" {
			apierr.WriteUnauthorized(ctx, "missing bearer token")
			return
		}

		key, err := s.keys.APIKeyByHash(ctx, HashAPIKey(raw))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				apierr.WriteUnauthorized(ctx, "invalid api key")
				return
			}
			s.log.Error("api_key_lookup_failed", slog.Any("error", err))
			apierr.WriteError(ctx, err)
			return
		}
		if !key.Active {
			apierr.WriteUnauthorized(ctx, "api key is disabled")
			return
		}

		caller := gateway.Context{ProjectID: key.ProjectID, APIKeyID: key.ID}
		if p, err := s.projects.Project(ctx, key.ProjectID); err == nil {
			caller.DefaultProvider = p.DefaultProvider
		}

		ctx.SetUserValue(callerContextKey, caller)
		ctx.SetUserValue("rate_limit_rpm", key.RateLimitRPM)
		next(ctx)
	}
}

// admitRate applies the per-key token bucket and sets the X-RateLimit-*
// headers on every response.
func (s *Server) admitRate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		caller, ok := ctx.UserValue(callerContextKey).(gateway.Context)
		if !ok {
			apierr.WriteUnauthorized(ctx, "missing bearer token")
			return
		}
		rpm, _ := ctx.UserValue("rate_limit_rpm").(int)

		res := s.limiter.Acquire(caller.APIKeyID, rpm)
		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			if s.metrics != nil {
				s.metrics.RecordRateLimit("denied")
			}
			ctx.Response.Header.Set("Retry-After",
				strconv.Itoa(int(res.RetryAfter.Seconds())))
			apierr.Write(ctx, fasthttp.StatusTooManyRequests,
				"rate limit exceeded, retry later",
				gwerr.KindLimitExceeded.String(), gwerr.CodeRateLimited)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordRateLimit("allowed")
		}
		next(ctx)
	}
}

// applyMiddleware wraps h so the first middleware in the list is the
// outermost wrapper.
func applyMiddleware(h fasthttp.RequestHandler, mws ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
