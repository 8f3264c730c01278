// Package registry maps capability tiers to concrete models and carries
// the pricing table used for cost estimation and billing.
package registry

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// ModelConfig describes one model: the provider that serves it and its USD
// rates per million tokens. ThinkingPer1M is zero for models without a
// separate reasoning-token rate.
type ModelConfig struct {
	ID            string
	Provider      string
	InputPer1M    decimal.Decimal
	OutputPer1M   decimal.Decimal
	ThinkingPer1M decimal.Decimal
}

// Capability tiers accepted in requests.
const (
	CapabilityFast     = "fast"
	CapabilityBalanced = "balanced"
	CapabilityThinking = "thinking"
	CapabilityBest     = "best"
)

// fallbackOrder is the provider precedence when neither the request nor
// the project names one.
var fallbackOrder = []string{"gemini", "openai", "anthropic", "groq"}

// capabilities maps tier -> provider -> model ID.
var capabilities = map[string]map[string]string{
	CapabilityFast: {
		"gemini":    "gemini-2.0-flash",
		"openai":    "gpt-4.1-mini",
		"anthropic": "claude-haiku-4-5",
		"groq":      "llama-3.3-70b-versatile",
	},
	CapabilityBalanced: {
		"gemini":    "gemini-2.5-pro",
		"openai":    "gpt-4.1",
		"anthropic": "claude-sonnet-4-5",
		"groq":      "llama-3.3-70b-versatile",
	},
	CapabilityThinking: {
		"gemini":    "gemini-2.5-flash-thinking",
		"openai":    "o3",
		"anthropic": "claude-sonnet-4-5",
		"groq":      "qwen-qwq-32b",
	},
	CapabilityBest: {
		"gemini":    "gemini-2.5-pro",
		"openai":    "gpt-4.1",
		"anthropic": "claude-opus-4-5",
		"groq":      "llama-3.3-70b-versatile",
	},
}

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var models = map[string]ModelConfig{
	"gemini-2.0-flash":          {Provider: "gemini", InputPer1M: usd("0.10"), OutputPer1M: usd("0.40")},
	"gemini-2.5-pro":            {Provider: "gemini", InputPer1M: usd("1.25"), OutputPer1M: usd("10.00")},
	"gemini-2.5-flash-thinking": {Provider: "gemini", InputPer1M: usd("0.10"), OutputPer1M: usd("0.40"), ThinkingPer1M: usd("0.10")},
	"gpt-4.1-mini":              {Provider: "openai", InputPer1M: usd("0.40"), OutputPer1M: usd("1.60")},
	"gpt-4.1":                   {Provider: "openai", InputPer1M: usd("2.00"), OutputPer1M: usd("8.00")},
	"gpt-4o":                    {Provider: "openai", InputPer1M: usd("2.50"), OutputPer1M: usd("10.00")},
	"o3":                        {Provider: "openai", InputPer1M: usd("2.00"), OutputPer1M: usd("8.00"), ThinkingPer1M: usd("8.00")},
	"o4-mini":                   {Provider: "openai", InputPer1M: usd("1.10"), OutputPer1M: usd("4.40"), ThinkingPer1M: usd("4.40")},
	"claude-haiku-4-5":          {Provider: "anthropic", InputPer1M: usd("0.80"), OutputPer1M: usd("4.00")},
	"claude-sonnet-4-5":         {Provider: "anthropic", InputPer1M: usd("3.00"), OutputPer1M: usd("15.00")},
	"claude-opus-4-5":           {Provider: "anthropic", InputPer1M: usd("15.00"), OutputPer1M: usd("75.00")},
	"llama-3.3-70b-versatile":   {Provider: "groq", InputPer1M: usd("0.59"), OutputPer1M: usd("0.79")},
	"qwen-qwq-32b":              {Provider: "groq", InputPer1M: usd("0.20"), OutputPer1M: usd("0.20")},
}

// Conservative pricing applied to models the table does not know.
var fallbackConfig = ModelConfig{
	InputPer1M:  usd("3.00"),
	OutputPer1M: usd("15.00"),
}

// Registry resolves requests to models. The tables are static; the struct
// exists so callers depend on an instance rather than package globals.
type Registry struct{}

func New() *Registry { return &Registry{} }

// Resolve picks the model for a request. An explicit model short-circuits
// capability routing. Otherwise the capability tier is combined with
// provider precedence: request provider, then the project's default, then
// the fallback order. Model, capability and provider names are matched
// case-insensitively.
func (r *Registry) Resolve(req *providers.ChatRequest, projectDefault string) (ModelConfig, error) {
	if req.Model != "" {
		return r.Config(req.Model), nil
	}

	capability := strings.ToLower(req.Capability)
	byProvider, ok := capabilities[capability]
	if !ok {
		return ModelConfig{}, gwerr.Invalid(gwerr.CodeInvalidCapability,
			"unknown capability %q", capability)
	}

	if req.Provider != "" {
		provider := strings.ToLower(req.Provider)
		id, ok := byProvider[provider]
		if !ok {
			return ModelConfig{}, gwerr.NotFound(gwerr.CodeNoModel,
				"no %s model for provider %q", capability, provider)
		}
		return r.Config(id), nil
	}

	order := fallbackOrder
	if projectDefault != "" {
		order = append([]string{strings.ToLower(projectDefault)}, fallbackOrder...)
	}
	for _, provider := range order {
		if id, ok := byProvider[provider]; ok {
			return r.Config(id), nil
		}
	}
	return ModelConfig{}, gwerr.NotFound(gwerr.CodeNoModel,
		"no model available for capability %q", capability)
}

// Config returns the pricing entry for a model ID, matched
// case-insensitively. Unknown models get an inferred provider and
// conservative fallback pricing so explicit-model requests are never
// rejected for being off-table.
func (r *Registry) Config(modelID string) ModelConfig {
	id := strings.ToLower(modelID)
	if cfg, ok := models[id]; ok {
		cfg.ID = id
		return cfg
	}
	cfg := fallbackConfig
	cfg.ID = modelID
	cfg.Provider = InferProvider(modelID)
	return cfg
}

// InferProvider guesses the provider from a model ID prefix. Returns
// "unknown" when no prefix matches.
func InferProvider(modelID string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(id, "gemini"):
		return "gemini"
	case strings.HasPrefix(id, "gpt"), strings.HasPrefix(id, "o1"),
		strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"):
		return "openai"
	case strings.HasPrefix(id, "claude"):
		return "anthropic"
	case strings.HasPrefix(id, "llama"), strings.HasPrefix(id, "qwen"):
		return "groq"
	default:
		return "unknown"
	}
}

// IsReasoningModel reports whether a model uses the OpenAI reasoning API
// shape (no temperature, max_completion_tokens instead of max_tokens).
func IsReasoningModel(modelID string) bool {
	id := strings.ToLower(modelID)
	return strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3") || strings.HasPrefix(id, "o4")
}
