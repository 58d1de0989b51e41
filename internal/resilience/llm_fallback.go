package resilience

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// LLMFallback implements llm.Provider around a primary LLM backend and,
// exactly one secondary. The secondary is attempted only when the primary
// errors before producing its first chunk — GenerateStream's initial error
// return covers exactly that case. Once a stream has started on the primary,
// no failover occurs; a mid-stream error surfaces to the caller as an error
// Chunk on the already-returned channel.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]

	// OnFallback, if non-nil, is invoked each time the secondary's stream is
	// the one returned to the caller. Wire this to the llm_fallback_used
	// counter.
	OnFallback func()
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLMFallback with primary as the preferred backend.
// Call SetSecondary to register the one allowed fallback.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// SetSecondary registers the single secondary backend tried after the
// primary, replacing any previously registered secondary. The chain is
// always exactly one attempt deep.
func (f *LLMFallback) SetSecondary(name string, provider llm.Provider) {
	f.group.entries = f.group.entries[:1]
	f.group.AddFallback(name, provider)
}

// GenerateStream tries the primary first. If it errors before the stream
// starts, the secondary (if set) is tried once. Once either provider's
// stream has started, GenerateStream returns; it never re-attempts
// mid-stream.
func (f *LLMFallback) GenerateStream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.Chunk, error) {
	// Compare against the primary itself rather than counting attempts: when
	// the primary's circuit is open it is skipped without being called, and
	// the secondary serves on the first invocation of this callback.
	primary := f.group.entries[0].value
	ch, err := ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		isFallback := p != primary
		ch, err := p.GenerateStream(ctx, req)
		if err == nil && isFallback && f.OnFallback != nil {
			f.OnFallback()
		}
		return ch, err
	})
	return ch, err
}

// Variant reports the primary's variant; the secondary may differ but is
// transparent to callers that only key metrics off the primary's identity.
func (f *LLMFallback) Variant() llm.Variant {
	if len(f.group.entries) == 0 {
		return ""
	}
	return f.group.entries[0].value.Variant()
}

// Health reports the primary's health. A down primary with a healthy
// secondary still reports down here: Health describes the preferred path,
// not whether a fallback happens to be available.
func (f *LLMFallback) Health(ctx context.Context) llm.Health {
	if len(f.group.entries) == 0 {
		return llm.HealthDown
	}
	return f.group.entries[0].value.Health(ctx)
}
