// Package anthropic adapts the canonical chat request to the Anthropic
// Messages API via the official SDK.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

type Provider struct {
	globalKey string
	baseURL   string
	keys      providers.KeySource
	client    anthropic.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

func New(globalKey string, keys providers.KeySource, opts ...Option) *Provider {
	p := &Provider{
		globalKey: globalKey,
		keys:      keys,
	}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(globalKey),
		option.WithHTTPClient(&http.Client{Timeout: providers.UpstreamTimeout}),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = anthropic.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest, projectID uuid.UUID) (*providers.ChatResponse, error) {
	key, err := providers.ResolveKey(ctx, p.keys, projectID, providerName, p.globalKey)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, buildParams(req), option.WithAPIKey(key))
	if err != nil {
		return nil, mapError(err)
	}
	return toResponse(msg, req.Model), nil
}

// buildParams translates the canonical request. Anthropic takes system
// text in a dedicated field, so system and developer turns are pulled out
// of the message list and joined with newlines.
func buildParams(req *providers.ChatRequest) anthropic.MessageNewParams {
	var systemPrompt string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		// max_tokens is mandatory on this API.
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	sdkRole := anthropic.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		sdkRole = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role: sdkRole,
		Content: []anthropic.ContentBlockParamUnion{
			{OfText: &anthropic.TextBlockParam{Text: content}},
		},
	}
}

func toResponse(msg *anthropic.Message, requestedModel string) *providers.ChatResponse {
	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	id := msg.ID
	if id == "" {
		id = providers.NewResponseID()
	}
	model := string(msg.Model)
	if model == "" {
		model = requestedModel
	}

	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)

	return &providers.ChatResponse{
		ID:       id,
		Created:  time.Now().Unix(),
		Model:    model,
		Provider: providerName,
		Choices: []providers.Choice{{
			Index:        0,
			Message:      providers.Message{Role: "assistant", Content: sb.String()},
			FinishReason: normalizeStopReason(string(msg.StopReason)),
		}},
		Usage: providers.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "refusal":
		return "content_filter"
	default:
		return reason
	}
}

func mapError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return providers.UpstreamError(providerName, apierr.StatusCode, apierr.Error())
	}
	return providers.TransportError(providerName, err)
}
