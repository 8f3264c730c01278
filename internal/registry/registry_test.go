package registry_test

import (
	"errors"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/registry"
)

func TestResolve_CapabilityWithExplicitProvider(t *testing.T) {
	r := registry.New()

	cases := []struct {
		capability string
		provider   string
		want       string
	}{
		{"fast", "gemini", "gemini-2.0-flash"},
		{"fast", "openai", "gpt-4.1-mini"},
		{"fast", "anthropic", "claude-haiku-4-5"},
		{"fast", "groq", "llama-3.3-70b-versatile"},
		{"balanced", "openai", "gpt-4.1"},
		{"thinking", "openai", "o3"},
		{"thinking", "gemini", "gemini-2.5-flash-thinking"},
		{"best", "anthropic", "claude-opus-4-5"},
	}
	for _, tc := range cases {
		cfg, err := r.Resolve(&providers.ChatRequest{
			Capability: tc.capability,
			Provider:   tc.provider,
		}, "")
		if err != nil {
			t.Fatalf("%s/%s: unexpected error: %v", tc.capability, tc.provider, err)
		}
		if cfg.ID != tc.want {
			t.Errorf("%s/%s: got %q, want %q", tc.capability, tc.provider, cfg.ID, tc.want)
		}
		if cfg.Provider != tc.provider {
			t.Errorf("%s/%s: provider %q, want %q", tc.capability, tc.provider, cfg.Provider, tc.provider)
		}
	}
}

func TestResolve_FallbackOrderPrefersGemini(t *testing.T) {
	r := registry.New()

	// No provider or project default: first provider in the fallback
	// order with a mapping wins.
	cfg, err := r.Resolve(&providers.ChatRequest{Capability: "balanced"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "gemini-2.5-pro" || cfg.Provider != "gemini" {
		t.Errorf("got %s/%s, want gemini/gemini-2.5-pro", cfg.Provider, cfg.ID)
	}
}

func TestResolve_EmptyCapabilityRejected(t *testing.T) {
	r := registry.New()

	_, err := r.Resolve(&providers.ChatRequest{}, "")
	var gerr *gwerr.Error
	if !errors.As(err, &gerr) || gerr.Kind != gwerr.KindInvalidRequest {
		t.Errorf("expected invalid-request error for empty capability, got %v", err)
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	r := registry.New()

	cfg, err := r.Resolve(&providers.ChatRequest{
		Capability: "FAST",
		Provider:   "Gemini",
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "gemini-2.0-flash" {
		t.Errorf("got %q, want gemini-2.0-flash", cfg.ID)
	}

	cfg, err = r.Resolve(&providers.ChatRequest{Capability: "Thinking"}, "OpenAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "o3" {
		t.Errorf("got %q, want o3", cfg.ID)
	}
}

func TestResolve_ProjectDefaultBeatsFallback(t *testing.T) {
	r := registry.New()

	cfg, err := r.Resolve(&providers.ChatRequest{Capability: "fast"}, "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "claude-haiku-4-5" {
		t.Errorf("got %q, want claude-haiku-4-5", cfg.ID)
	}
}

func TestResolve_RequestProviderBeatsProjectDefault(t *testing.T) {
	r := registry.New()

	cfg, err := r.Resolve(&providers.ChatRequest{
		Capability: "fast",
		Provider:   "groq",
	}, "anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "llama-3.3-70b-versatile" {
		t.Errorf("got %q, want llama-3.3-70b-versatile", cfg.ID)
	}
}

func TestResolve_ExplicitModelWins(t *testing.T) {
	r := registry.New()

	cfg, err := r.Resolve(&providers.ChatRequest{
		Model:      "gpt-4o",
		Capability: "fast",
		Provider:   "anthropic",
	}, "gemini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "gpt-4o" || cfg.Provider != "openai" {
		t.Errorf("got %s/%s, want openai/gpt-4o", cfg.Provider, cfg.ID)
	}
}

func TestResolve_InvalidCapability(t *testing.T) {
	r := registry.New()

	_, err := r.Resolve(&providers.ChatRequest{Capability: "superfast"}, "")
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
	var gerr *gwerr.Error
	if !errors.As(err, &gerr) || gerr.Kind != gwerr.KindInvalidRequest {
		t.Errorf("expected invalid-request taxonomy error, got %v", err)
	}
}

func TestConfig_UnknownModelFallsBack(t *testing.T) {
	r := registry.New()

	cfg := r.Config("claude-next-9000")
	if cfg.Provider != "anthropic" {
		t.Errorf("inferred provider %q, want anthropic", cfg.Provider)
	}
	if cfg.InputPer1M.String() != "3" || cfg.OutputPer1M.String() != "15" {
		t.Errorf("fallback pricing %s/%s, want 3/15", cfg.InputPer1M, cfg.OutputPer1M)
	}

	if got := r.Config("totally-novel-model").Provider; got != "unknown" {
		t.Errorf("inferred %q for unmatched prefix, want unknown", got)
	}
}

func TestConfig_CaseInsensitive(t *testing.T) {
	r := registry.New()

	cfg := r.Config("O3")
	if cfg.ID != "o3" || cfg.Provider != "openai" {
		t.Errorf("got %s/%s, want openai/o3", cfg.Provider, cfg.ID)
	}
	if cfg.InputPer1M.String() != "2" || cfg.OutputPer1M.String() != "8" {
		t.Errorf("got table rates %s/%s, want 2/8 (fallback pricing must not apply)",
			cfg.InputPer1M, cfg.OutputPer1M)
	}

	if got := r.Config("GPT-4o").InputPer1M.String(); got != "2.5" {
		t.Errorf("mixed-case known model priced %s, want 2.5", got)
	}
}

func TestInferProvider(t *testing.T) {
	cases := map[string]string{
		"gemini-3.0-ultra": "gemini",
		"gpt-5":            "openai",
		"o1-preview":       "openai",
		"o4-mini-high":     "openai",
		"claude-zeta":      "anthropic",
		"llama-4-scout":    "groq",
		"qwen-max":         "groq",
		"mistral-large":    "unknown",
	}
	for id, want := range cases {
		if got := registry.InferProvider(id); got != want {
			t.Errorf("InferProvider(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestIsReasoningModel(t *testing.T) {
	if !registry.IsReasoningModel("o3") || !registry.IsReasoningModel("o1-mini") {
		t.Error("o-series models must be detected as reasoning models")
	}
	if registry.IsReasoningModel("gpt-4.1") || registry.IsReasoningModel("llama-3.3-70b-versatile") {
		t.Error("non o-series models must not be detected as reasoning models")
	}
}
