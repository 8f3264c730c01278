package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/pricing"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/internal/registry"
	"github.com/nulpointcorp/ai-gateway/internal/store"
	"github.com/nulpointcorp/ai-gateway/internal/tokens"
	"github.com/nulpointcorp/ai-gateway/internal/usage"
)

// --- helpers ----------------------------------------------------------------

const testAPIKey = "gw-test-key"

// echoAdapter answers every chat with a fixed completion.
type echoAdapter struct {
	name string
	err  error
}

func (a *echoAdapter) Name() string { return a.name }

func (a *echoAdapter) Chat(_ context.Context, req *providers.ChatRequest, _ uuid.UUID) (*providers.ChatResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &providers.ChatResponse{
		Model: req.Model,
		Choices: []providers.Choice{{
			Message:      providers.Message{Role: "assistant", Content: "hello from " + a.name},
			FinishReason: "stop",
		}},
		Usage: providers.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

type serverEnv struct {
	server  *Server
	mem     *store.MemoryStore
	project store.Project
	apiKey  store.APIKey
	pingErr error
}

func newServerEnv(t *testing.T, mutate func(*serverEnv)) *serverEnv {
	t.Helper()

	env := &serverEnv{mem: store.NewMemory()}
	ctx := context.Background()

	env.project = store.Project{
		ID:              uuid.New(),
		Name:            "test",
		DefaultProvider: "openai",
		Active:          true,
	}
	if err := env.mem.SaveProject(ctx, &env.project); err != nil {
		t.Fatal(err)
	}
	env.apiKey = store.APIKey{
		ID:        uuid.New(),
		ProjectID: env.project.ID,
		Name:      "default",
		Active:    true,
	}
	if err := env.mem.SaveAPIKey(ctx, &env.apiKey, HashAPIKey(testAPIKey)); err != nil {
		t.Fatal(err)
	}

	if mutate != nil {
		mutate(env)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	est, err := tokens.NewEstimator()
	if err != nil {
		t.Fatal(err)
	}

	prom := metrics.New()
	pipeline, err := gateway.NewPipeline(gateway.Options{
		Registry:  reg,
		Estimator: est,
		Costs:     pricing.NewCalculator(reg),
		Ledger:    usage.NewLedger(env.mem, env.mem, log),
		Adapters: map[string]providers.ChatProvider{
			"openai":    &echoAdapter{name: "openai"},
			"anthropic": &echoAdapter{name: "anthropic"},
			"gemini":    &echoAdapter{name: "gemini"},
			"groq":      &echoAdapter{name: "groq"},
		},
		Metrics: prom,
		Log:     log,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv, err := New(Options{
		Pipeline: pipeline,
		Keys:     env.mem,
		Projects: env.mem,
		Limiter:  ratelimit.NewLimiter(60),
		Metrics:  prom,
		Log:      log,
		Ping: func(context.Context) error {
			return env.pingErr
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.server = srv
	return env
}

// serve runs the full handler chain on an in-memory listener and returns
// an HTTP client routed to it.
func serve(t *testing.T, s *Server) *http.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() {
		_ = fasthttp.Serve(ln, s.Handler())
	}()
	t.Cleanup(func() { ln.Close() })

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(context.Context, string, string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func postChat(t *testing.T, client *http.Client, apiKey string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://gateway/v1/chat/completions",
		bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody(t, resp)
	inner, _ := body["error"].(map[string]any)
	code, _ := inner["code"].(string)
	return code
}

const chatBody = `{"capability":"balanced","messages":[{"role":"user","content":"hello"}]}`

// --- end-to-end -------------------------------------------------------------

func TestChatCompletion_Success(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp := postChat(t, client, testAPIKey, chatBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be set")
	}
	if resp.Header.Get("X-RateLimit-Limit") != "60" {
		t.Errorf("expected X-RateLimit-Limit 60, got %q", resp.Header.Get("X-RateLimit-Limit"))
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}

	body := decodeBody(t, resp)
	if body["object"] != "chat.completion" {
		t.Errorf("expected chat.completion object, got %v", body["object"])
	}
	// Project default provider is openai, balanced maps to gpt-4.1.
	if body["provider"] != "openai" {
		t.Errorf("expected provider openai, got %v", body["provider"])
	}
	if body["model"] != "gpt-4.1" {
		t.Errorf("expected model gpt-4.1, got %v", body["model"])
	}
	cost, _ := body["cost"].(map[string]any)
	if cost == nil {
		t.Fatal("response should include cost")
	}
	if _, ok := cost["total"].(float64); !ok {
		t.Errorf("cost.total should be a JSON number, got %T", cost["total"])
	}
}

func TestChatCompletion_RecordsUsage(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp := postChat(t, client, testAPIKey, chatBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := env.mem.ProjectCounter(context.Background(), env.project.ID, store.Day(time.Now()))
		if err == nil && c.Requests == 1 && c.Tokens == 150 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("usage counter was not recorded asynchronously")
}

func TestChatCompletion_MissingToken(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp := postChat(t, client, "", chatBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "invalid_api_key" {
		t.Errorf("expected invalid_api_key, got %q", code)
	}
}

func TestChatCompletion_UnknownKey(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp := postChat(t, client, "gw-wrong-key", chatBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestChatCompletion_InactiveKey(t *testing.T) {
	env := newServerEnv(t, func(e *serverEnv) {
		e.apiKey.Active = false
		if err := e.mem.SaveAPIKey(context.Background(), &e.apiKey, HashAPIKey(testAPIKey)); err != nil {
			t.Fatal(err)
		}
	})
	client := serve(t, env.server)

	resp := postChat(t, client, testAPIKey, chatBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestChatCompletion_MalformedBody(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp := postChat(t, client, testAPIKey, `{"messages": not-json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "invalid_request" {
		t.Errorf("expected invalid_request, got %q", code)
	}
}

func TestChatCompletion_StreamFlagIgnored(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp := postChat(t, client, testAPIKey,
		`{"stream":true,"capability":"balanced","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["object"] != "chat.completion" {
		t.Errorf("stream requests should still return a whole completion, got %v", body["object"])
	}
}

func TestChatCompletion_RateLimited(t *testing.T) {
	env := newServerEnv(t, func(e *serverEnv) {
		e.apiKey.RateLimitRPM = 2
		if err := e.mem.SaveAPIKey(context.Background(), &e.apiKey, HashAPIKey(testAPIKey)); err != nil {
			t.Fatal(err)
		}
	})
	client := serve(t, env.server)

	for i := 0; i < 2; i++ {
		resp := postChat(t, client, testAPIKey, chatBody)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp := postChat(t, client, testAPIKey, chatBody)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q",
			resp.Header.Get("X-RateLimit-Remaining"))
	}
}

func TestChatCompletion_BudgetDenied(t *testing.T) {
	limit := int64(1)
	env := newServerEnv(t, func(e *serverEnv) {
		e.project.DailyTokenLimit = &limit
		if err := e.mem.SaveProject(context.Background(), &e.project); err != nil {
			t.Fatal(err)
		}
	})
	client := serve(t, env.server)

	resp := postChat(t, client, testAPIKey, chatBody)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "budget_exceeded" {
		t.Errorf("expected budget_exceeded, got %q", code)
	}
}

// --- operational endpoints --------------------------------------------------

func TestHealth(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	resp, err := client.Get("http://gateway/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadiness_StoreDown(t *testing.T) {
	env := newServerEnv(t, nil)
	env.pingErr = errors.New("redis unreachable")
	client := serve(t, env.server)

	resp, err := client.Get("http://gateway/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	// One completed request so the counters exist.
	postChat(t, client, testAPIKey, chatBody)

	resp, err := client.Get("http://gateway/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "gateway_requests_total") {
		t.Error("metrics output should contain gateway_requests_total")
	}
}

// --- middleware units -------------------------------------------------------

func TestRecovery_CatchesPanic(t *testing.T) {
	env := newServerEnv(t, nil)
	handler := env.server.recovery(func(ctx *fasthttp.RequestCtx) {
		panic("boom")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500, got %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "internal server error") {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Request-ID", "custom-id-123")
	handler(ctx)

	if got := string(ctx.Response.Header.Peek("X-Request-ID")); got != "custom-id-123" {
		t.Errorf("expected custom-id-123, got %s", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newServerEnv(t, nil)
	client := serve(t, env.server)

	req, err := http.NewRequest(http.MethodOptions, "http://gateway/v1/chat/completions", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard origin, got %q",
			resp.Header.Get("Access-Control-Allow-Origin"))
	}
}
