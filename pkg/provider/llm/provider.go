// Package llm defines the Provider interface for LLM backends.
//
// An LLM provider wraps a remote or local model API and exposes a single
// streaming contract regardless of wire transport: hosted and local
// providers speak OpenAI-compatible SSE, a webhook provider speaks a
// chunked HTTP POST whose reply body is text/event-stream or plain text, and a
// multi-backend provider dispatches to whichever concrete runtime its
// configuration names. All of them normalize to the same lazy chunk
// sequence so the response pipeline never branches on provider identity.
package llm

import (
	"context"

	"github.com/voxgate/voxgate/pkg/types"
)

// Variant names which wire transport a Provider speaks. Used only for
// identification and metrics labelling — the Provider interface itself is
// uniform across variants.
type Variant string

const (
	VariantHostedSSE Variant = "hosted_sse"
	VariantLocalSSE  Variant = "local_sse"
	VariantWebhook   Variant = "webhook"
	VariantAnyLLM    Variant = "anyllm"
)

// GenerateRequest carries everything needed to produce a response. Configuration
// (provider_variant, model_id, temperature, system_prompt, max_tokens) comes
// from the agent record; Messages is the per-request ordered conversation:
// system + recent history + new user text.
type GenerateRequest struct {
	Messages     []types.ChatMessage
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Chunk is a single token or fragment emitted by a streaming generation. A
// chunk may carry text, a terminal FinishReason, or both.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop" (natural end), "length"
	// (MaxTokens reached), or "error" (mid-stream failure — see Err).
	FinishReason string

	// Err is set when FinishReason is "error".
	Err error
}

// Provider is the abstraction over any LLM backend. Implementations must be
// safe for concurrent use and must propagate context cancellation promptly.
type Provider interface {
	// GenerateStream sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive: a lazy, finite, non-restartable
	// sequence. The channel is closed by the implementation when generation
	// finishes or ctx is cancelled.
	//
	// The initial error return is non-nil only for failures that prevent the
	// stream from starting at all (bad credentials, malformed request,
	// ctx already cancelled). A failure after the stream has started is
	// surfaced as a Chunk with FinishReason "error" on the channel, which is
	// then closed; the caller never receives a nil-error, nil-channel pair.
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Chunk, error)

	// Variant identifies this provider's wire transport.
	Variant() Variant

	// Health reports the provider's current serving status.
	Health(ctx context.Context) Health
}

// Health is the tri-state result of a provider health probe.
type Health int

const (
	HealthOK Health = iota
	HealthDegraded
	HealthDown
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthDegraded:
		return "degraded"
	case HealthDown:
		return "down"
	default:
		return "unknown"
	}
}
