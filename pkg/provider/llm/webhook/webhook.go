// Package webhook implements an llm.Provider that POSTs to an arbitrary
// webhook endpoint and normalizes the response body to the same lazy chunk
// sequence the SSE-based providers produce. Unlike the OpenAI-compatible
// providers, a webhook may stream its response as either text/event-stream
// (SSE framing) or a plain text/plain chunked body; the response
// Content-Type decides which framing this client applies.
package webhook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

const defaultTimeout = 30 * time.Second

// Provider posts conversation turns to a webhook URL and streams the reply.
type Provider struct {
	url        string
	httpClient *http.Client

	// TTSOptionsHeader, if non-empty, is sent as the X-TTS-Options header
	// value on every request, carrying per-request TTS params the webhook
	// may want echoed alongside its text reply.
	TTSOptionsHeader string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout overrides the default 30s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithTTSOptionsHeader sets the X-TTS-Options header value sent with every
// request.
func WithTTSOptionsHeader(value string) Option {
	return func(p *Provider) { p.TTSOptionsHeader = value }
}

// New constructs a Provider posting to url.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook: url must not be empty")
	}
	p := &Provider{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Variant implements llm.Provider.
func (p *Provider) Variant() llm.Variant { return llm.VariantWebhook }

type webhookRequest struct {
	Text         string `json:"text"`
	UserID       string `json:"userId"`
	Timestamp    int64  `json:"timestamp"`
	UseStreaming bool   `json:"useStreaming"`
}

// GenerateStream posts the latest user turn to the webhook and streams the
// reply body as Chunk values. Only the final user message in req.Messages is
// sent as text per the webhook wire contract (§6.2); prior history is the
// webhook's own responsibility to track server-side.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	lastText := lastUserText(req.Messages)

	payload := webhookRequest{
		Text:         lastText,
		Timestamp:    0,
		UseStreaming: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.TTSOptionsHeader != "" {
		httpReq.Header.Set("X-TTS-Options", p.TTSOptionsHeader)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	ch := make(chan llm.Chunk, 32)
	contentType := resp.Header.Get("Content-Type")
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var readErr error
		if strings.Contains(contentType, "text/event-stream") {
			readErr = streamSSE(ctx, resp.Body, ch)
		} else {
			readErr = streamPlain(ctx, resp.Body, ch)
		}
		if readErr != nil && readErr != io.EOF {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Err: readErr}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// streamSSE reads newline data:-framed SSE lines, treating each data payload
// as an additional text chunk. As in SSE framing, one space after "data:" is
// dropped and any further leading spaces are kept as text. A literal
// "[DONE]" payload ends the stream.
func streamSSE(ctx context.Context, r io.Reader, ch chan<- llm.Chunk) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		if data == "[DONE]" {
			return nil
		}
		select {
		case ch <- llm.Chunk{Text: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// streamPlain reads the body as plain chunked text: each Read() call's bytes
// become one Chunk, since a text/plain webhook has no event framing of its
// own to split on.
func streamPlain(ctx context.Context, r io.Reader, ch chan<- llm.Chunk) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case ch <- llm.Chunk{Text: string(buf[:n])}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func lastUserText(messages []types.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Text
		}
	}
	return ""
}

// Health posts an empty probe request and treats any non-5xx response as
// healthy; the webhook wire contract has no dedicated health verb.
func (p *Provider) Health(ctx context.Context) llm.Health {
	body, _ := json.Marshal(webhookRequest{Text: "", UseStreaming: false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return llm.HealthDown
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return llm.HealthDown
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return llm.HealthDegraded
	}
	return llm.HealthOK
}
