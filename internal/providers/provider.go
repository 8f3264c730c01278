// Package providers defines the canonical chat-completion types and the
// interface every upstream adapter implements. Handlers and the pipeline
// speak only these types; dialect translation lives in the sub-packages.
package providers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpstreamTimeout bounds a single provider call.
const UpstreamTimeout = 30 * time.Second

// SupportedProviders is the closed set of upstream providers the gateway
// can dispatch to.
var SupportedProviders = []string{"openai", "anthropic", "gemini", "groq"}

type (
	// Message is a single chat turn.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// ChatRequest is the canonical inbound request. At least one of Model
	// and Capability must be set; an explicit Model wins over Capability.
	// Temperature is a pointer so an explicit 0 (deterministic sampling)
	// survives to the upstream. Stream is accepted for wire compatibility
	// and ignored.
	ChatRequest struct {
		Model       string    `json:"model,omitempty"`
		Capability  string    `json:"capability,omitempty"`
		Provider    string    `json:"provider,omitempty"`
		Messages    []Message `json:"messages"`
		Temperature *float64  `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		Stream      bool      `json:"stream,omitempty"`
	}

	// Choice is one completion alternative. All current adapters return a
	// single choice with a normalized finish reason.
	Choice struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	}

	// Usage is the upstream-reported token accounting. ThinkingTokens is
	// kept for analytics on reasoning models and stays off the wire.
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
		ThinkingTokens   int `json:"-"`
	}

	// Cost is the USD cost breakdown attached by the pipeline. Thinking
	// tokens are priced in the registry but not folded into Total.
	Cost struct {
		Input    decimal.Decimal `json:"input"`
		Output   decimal.Decimal `json:"output"`
		Total    decimal.Decimal `json:"total"`
		Currency string          `json:"currency"`
	}

	// ChatResponse is the canonical response returned to clients.
	ChatResponse struct {
		ID       string   `json:"id"`
		Created  int64    `json:"created"`
		Model    string   `json:"model"`
		Provider string   `json:"provider"`
		Choices  []Choice `json:"choices"`
		Usage    Usage    `json:"usage"`
		Cost     *Cost    `json:"cost,omitempty"`
	}
)

// ChatProvider is implemented by every upstream adapter. Chat must honor
// ctx cancellation and return taxonomy errors for upstream failures. The
// project ID selects per-project credentials when any are stored.
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest, projectID uuid.UUID) (*ChatResponse, error)
}

// KeySource resolves a per-project API key for a provider. An empty key
// with a nil error means no project-scoped credential exists and the
// adapter should fall back to its globally configured key.
type KeySource interface {
	ProviderKey(ctx context.Context, projectID uuid.UUID, provider string) (string, error)
}

// NewResponseID synthesizes a canonical response ID for upstreams that do
// not return one.
func NewResponseID() string {
	return "chatcmpl-" + uuid.New().String()
}
