// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a real-time transcription service (a local
// WhisperX-class engine, or a hosted one speaking the gateway's own wire
// protocol) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM or
// Opus audio frames in arrival order and emits two streams of Transcript
// values — low-latency partials for responsiveness and an authoritative,
// at-most-once Final for the session log.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package stt

import (
	"context"

	"github.com/voxgate/voxgate/pkg/types"
)

// AudioFormat names the wire encoding of frames handed to SendAudio. The
// format is declared once per stream (see StreamConfig.AudioFormat) and
// never renegotiated — the server routes frames to different decoders
// based on it.
type AudioFormat string

const (
	FormatOpusFrames AudioFormat = "opus"
	FormatPCM16k     AudioFormat = "pcm"
)

// StreamConfig describes the audio format and recognition hints for a new
// STT session. All fields must be compatible with what the underlying
// provider supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// AudioFormat declares how frames passed to SendAudio are encoded.
	// Authoritative for the lifetime of the stream.
	AudioFormat AudioFormat

	// SampleRate is the audio sample rate in Hz. Common values: 16000 (STT-
	// optimised mono), 48000 (chat-platform Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en"). Fixed
	// at session attach to avoid per-utterance auto-detection latency.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an
// interface so that test code can provide fake implementations without a
// live provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of audio bytes to the provider for
	// transcription, in the format declared by StreamConfig.AudioFormat.
	// Frames are processed in the order they are sent; none are skipped.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values. These must not be written to the authoritative
	// session log. The channel is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits the authoritative,
	// at-most-one-per-utterance terminal Transcript. The channel is closed
	// when the session ends.
	Finals() <-chan types.Transcript

	// Finalize signals the engine to emit its terminal Final for the
	// current utterance. Idempotent: calling it more than once before the
	// Final arrives has no additional effect.
	Finalize() error

	// SetKeywords replaces the active keyword boost list without
	// restarting the session. Providers that do not support mid-session
	// keyword updates may return ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close terminates the session, flushes any pending audio, and
	// releases all associated resources. After Close returns, Partials and
	// Finals are closed. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any STT backend. Implementations must
// be safe for concurrent use; many sessions may be open simultaneously.
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately; implementations
	// emit a provider-internal "ready" signal before returning successfully.
	//
	// Returns an error if the provider cannot establish the session
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)

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

// ErrNotSupported is returned by SetKeywords when the provider cannot apply
// a mid-session keyword update.
var ErrNotSupported = errNotSupported{}

type errNotSupported struct{}

func (errNotSupported) Error() string { return "stt: operation not supported by this provider" }
