// Package openai provides an LLM provider backed by the OpenAI chat
// completions API. Pointed at a different base URL via WithBaseURL, the
// same client also serves as the "local-SSE" variant against any
// OpenAI-compatible local server (Ollama, vLLM, llama.cpp server) — both
// speak the identical newline data:-framed SSE wire format.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI chat completions API.
type Provider struct {
	client  oai.Client
	model   string
	variant llm.Variant
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	variant      llm.Variant
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Set this to a
// local OpenAI-compatible server to make New produce the local-SSE variant.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVariant overrides the reported llm.Variant. New defaults to
// VariantHostedSSE, or VariantLocalSSE automatically when WithBaseURL is
// set; use this only to override that inference.
func WithVariant(v llm.Variant) Option {
	return func(c *config) { c.variant = v }
}

// New constructs a new OpenAI-compatible LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	variant := cfg.variant
	if variant == "" {
		variant = llm.VariantHostedSSE
		if cfg.baseURL != "" {
			variant = llm.VariantLocalSSE
		}
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, variant: variant}, nil
}

// Variant implements llm.Provider.
func (p *Provider) Variant() llm.Variant { return p.variant }

// GenerateStream implements llm.Provider.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	params := p.buildParams(req)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: string(choice.FinishReason),
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Health probes the provider by listing available models.
func (p *Provider) Health(ctx context.Context) llm.Health {
	if _, err := p.client.Models.List(ctx); err != nil {
		return llm.HealthDown
	}
	return llm.HealthOK
}

// buildParams converts a GenerateRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.GenerateRequest) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	systemPrompt := req.SystemPrompt
	if systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(systemPrompt))
	}

	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// convertMessage converts a types.ChatMessage to an OpenAI SDK message param.
func convertMessage(m types.ChatMessage) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Text)
	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Text)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	default:
		return oai.UserMessage(m.Text)
	}
}
