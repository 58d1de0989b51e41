// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the response pipeline sends
// correct GenerateRequests and to feed controlled token streams without a
// live LLM backend. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Hello"}, {Text: " there!", FinishReason: "stop"}},
//	}
//	ch, err := p.GenerateStream(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// GenerateCall records a single invocation of GenerateStream.
type GenerateCall struct {
	Ctx context.Context
	Req llm.GenerateRequest
}

// Provider is a mock implementation of llm.Provider. Zero values cause
// GenerateStream to return a closed, empty channel. Set GenerateErr to
// inject a start-up failure, or StreamErr to inject a mid-stream error
// chunk after StreamChunks have been emitted.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by GenerateStream, in order, before the channel is closed.
	StreamChunks []llm.Chunk

	// GenerateErr, if non-nil, is returned as the error from GenerateStream
	// instead of starting a channel.
	GenerateErr error

	// StreamErr, if non-nil, is appended as a final Chunk{FinishReason:
	// "error", Err: StreamErr} after StreamChunks are sent.
	StreamErr error

	// VariantValue is returned by Variant. Defaults to llm.VariantHostedSSE.
	VariantValue llm.Variant

	// HealthValue is returned by Health. Defaults to llm.HealthOK.
	HealthValue llm.Health

	// GenerateCalls records every invocation of GenerateStream in order.
	GenerateCalls []GenerateCall
}

var _ llm.Provider = (*Provider)(nil)

// GenerateStream records the call and returns a channel that emits
// StreamChunks, followed by an error chunk if StreamErr is set.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	if p.GenerateErr != nil {
		err := p.GenerateErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	streamErr := p.StreamErr
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if streamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- llm.Chunk{FinishReason: "error", Err: streamErr}:
			}
		}
	}()
	return ch, nil
}

// Variant returns VariantValue, defaulting to llm.VariantHostedSSE.
func (p *Provider) Variant() llm.Variant {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VariantValue == "" {
		return llm.VariantHostedSSE
	}
	return p.VariantValue
}

// Health returns HealthValue, defaulting to llm.HealthOK.
func (p *Provider) Health(ctx context.Context) llm.Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HealthValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}
