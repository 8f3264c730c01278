// Package gemini adapts the canonical chat request to the Gemini API via
// the official GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"
)

type Provider struct {
	globalKey  string
	baseURL    string
	keys       providers.KeySource
	client     *genai.Client
	httpClient *http.Client
	base       string
	apiVersion string
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

func New(ctx context.Context, globalKey string, keys providers.KeySource, opts ...Option) (*Provider, error) {
	p := &Provider{
		globalKey: globalKey,
		baseURL:   defaultBaseURL,
		keys:      keys,
	}
	for _, o := range opts {
		o(p)
	}

	p.httpClient = &http.Client{Timeout: providers.UpstreamTimeout}
	p.base, p.apiVersion = splitBaseURLAndVersion(p.baseURL)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      globalKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.base, APIVersion: p.apiVersion},
	})
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest, projectID uuid.UUID) (*providers.ChatResponse, error) {
	key, err := providers.ResolveKey(ctx, p.keys, projectID, providerName, p.globalKey)
	if err != nil {
		return nil, err
	}
	client, err := p.clientForKey(ctx, key)
	if err != nil {
		return nil, err
	}

	contents, cfg := buildContentsAndConfig(req)
	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, mapError(err)
	}
	return toResponse(resp, req.Model), nil
}

// buildContentsAndConfig translates the canonical request. Gemini has no
// system role in the content list; system and developer turns become the
// systemInstruction, assistant turns map to the "model" role.
func buildContentsAndConfig(req *providers.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" || req.Temperature != nil || req.MaxTokens > 0 {
		cfg = &genai.GenerateContentConfig{}
		if systemPrompt != "" {
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: systemPrompt}},
			}
		}
		if req.Temperature != nil {
			cfg.Temperature = genai.Ptr[float32](float32(*req.Temperature))
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(req.MaxTokens)
		}
	}
	return contents, cfg
}

func toResponse(resp *genai.GenerateContentResponse, requestedModel string) *providers.ChatResponse {
	id := ""
	if resp != nil && resp.ResponseID != "" {
		id = resp.ResponseID
	}
	if id == "" {
		id = providers.NewResponseID()
	}

	var choices []providers.Choice
	if resp != nil {
		for i, c := range resp.Candidates {
			if c == nil {
				continue
			}
			choices = append(choices, providers.Choice{
				Index:        i,
				Message:      providers.Message{Role: "assistant", Content: candidateText(c)},
				FinishReason: normalizeFinishReason(string(c.FinishReason)),
			})
		}
	}

	var usage providers.Usage
	if resp != nil && resp.UsageMetadata != nil {
		usage = providers.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			ThinkingTokens:   int(resp.UsageMetadata.ThoughtsTokenCount),
		}
	}

	return &providers.ChatResponse{
		ID:       id,
		Created:  time.Now().Unix(),
		Model:    requestedModel,
		Provider: providerName,
		Choices:  choices,
		Usage:    usage,
	}
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "", "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

func candidateText(c *genai.Candidate) string {
	if c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (p *Provider) clientForKey(ctx context.Context, key string) (*genai.Client, error) {
	if key == p.globalKey {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.base, APIVersion: p.apiVersion},
	})
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	return client, nil
}

func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]
	if looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}
	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.UpstreamError(providerName, apiErr.Code, apiErr.Message)
	}
	return providers.TransportError(providerName, err)
}
