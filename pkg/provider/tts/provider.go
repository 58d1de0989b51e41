// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (Coqui XTTS, ElevenLabs, or
// similar) and presents a uniform streaming interface. The entry point is
// SynthesizeStream, which accepts a channel of text fragments — one per
// chunking-strategy unit from the response pipeline — and returns a channel
// of raw PCM audio bytes as they become available, so synthesis of unit N+1
// can begin before playback of unit N finishes.
//
// Implementations must be safe for concurrent use: the pipeline bounds
// in-flight synthesis with max_concurrent_tts, so a single provider instance
// may have several SynthesizeStream calls open at once.
package tts

import (
	"context"

	"github.com/voxgate/voxgate/pkg/types"
)

// Provider is the abstraction over any TTS backend. STT and TTS are each a
// single capability with multiple concrete implementations behind this one
// interface, not a tagged variant like the LLM abstraction — there is no
// provider-switching fallback chain for either.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised. This lets the caller pipe chunked text directly into
	// synthesis without waiting for a unit's full text to be buffered.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// voice specifies the voice profile to use for synthesis. Providers
	// return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started at all.
	// Errors encountered mid-synthesis are signalled by closing the audio
	// channel early; callers should check ctx.Err() to distinguish
	// cancellation from a provider-side failure, which the pipeline's retry
	// and error policies act on.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voice profiles currently available from this
	// provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice creates a new voice profile by training on the supplied
	// audio samples. An expensive, out-of-hot-path operation. A nil or empty
	// samples slice returns an error rather than panicking.
	CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error)

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
