// Package openaicompat implements the OpenAI chat-completions dialect for
// any service that speaks it. The gateway instantiates it twice, once for
// OpenAI itself and once for Groq; other compatible vendors need only a
// name, key and base URL.
package openaicompat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/registry"
)

// Provider is a configurable OpenAI-compatible chat provider.
type Provider struct {
	name      string
	globalKey string
	baseURL   string
	keys      providers.KeySource
	client    openaiSDK.Client
}

// New creates an OpenAI-compatible Provider.
//
//   - name      — provider identifier used for routing, pricing and logs.
//   - globalKey — fallback API key when the project stores none.
//   - baseURL   — API base URL, empty for the OpenAI default.
//   - keys      — per-project credential source, may be nil.
func New(name, globalKey, baseURL string, keys providers.KeySource) *Provider {
	p := &Provider{
		name:      name,
		globalKey: globalKey,
		baseURL:   baseURL,
		keys:      keys,
	}

	opts := []option.RequestOption{
		option.WithAPIKey(globalKey),
		option.WithHTTPClient(&http.Client{Timeout: providers.UpstreamTimeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	p.client = openaiSDK.NewClient(opts...)
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest, projectID uuid.UUID) (*providers.ChatResponse, error) {
	key, err := providers.ResolveKey(ctx, p.keys, projectID, p.name, p.globalKey)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, buildParams(req), option.WithAPIKey(key))
	if err != nil {
		return nil, p.mapError(err)
	}
	return p.toResponse(resp, req.Model), nil
}

// buildParams translates the canonical request. Reasoning models take
// max_completion_tokens and reject temperature; everything else gets the
// classic parameters.
func buildParams(req *providers.ChatRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}

	if registry.IsReasoningModel(req.Model) {
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
		}
		return params
	}

	if req.Temperature != nil {
		params.Temperature = openaiSDK.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	return params
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch role {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}

func (p *Provider) toResponse(resp *openaiSDK.ChatCompletion, requestedModel string) *providers.ChatResponse {
	choices := make([]providers.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, providers.Choice{
			Index: int(c.Index),
			Message: providers.Message{
				Role:    "assistant",
				Content: c.Message.Content,
			},
			// OpenAI finish reasons are already the canonical vocabulary.
			FinishReason: c.FinishReason,
		})
	}

	id := resp.ID
	if id == "" {
		id = providers.NewResponseID()
	}
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	model := resp.Model
	if model == "" {
		model = requestedModel
	}

	return &providers.ChatResponse{
		ID:       id,
		Created:  created,
		Model:    model,
		Provider: p.name,
		Choices:  choices,
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			ThinkingTokens:   int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
		},
	}
}

func (p *Provider) mapError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return providers.UpstreamError(p.name, apierr.StatusCode, apierr.Error())
	}
	return providers.TransportError(p.name, err)
}
