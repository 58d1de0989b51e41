// Package uttstate implements the per-session speaking-turn state machine:
// Idle -> Listening -> Finalizing -> Responding -> Idle.
//
// A Machine guards its state with an internal mutex: every exported method
// takes the lock for its state check or transition and releases it before
// invoking a hook, so the methods may be called from any goroutine (ingress
// dispatch, a silence poller, STT readers, timers, disconnect handling).
package uttstate

import (
	"sync"
	"time"
)

// State is one position in the utterance state machine.
type State int

const (
	Idle State = iota
	Listening
	Finalizing
	Responding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	case Responding:
		return "responding"
	default:
		return "unknown"
	}
}

// StartResult is returned by Machine.Start.
type StartResult int

const (
	StartOK StartResult = iota
	StartBusy
)

// Config holds the tunable timing parameters of a Machine.
type Config struct {
	// SilenceThreshold is the quiet duration after which a Listening
	// utterance auto-finalizes. Default 600ms.
	SilenceThreshold time.Duration

	// MaxDuration bounds a single utterance regardless of continued audio.
	// Default 45s.
	MaxDuration time.Duration

	// FinalizeTimeout bounds how long Finalizing waits for the STT engine's
	// terminal Final before falling back to the best-known partial.
	// Default 2s.
	FinalizeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 600 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 45 * time.Second
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 2 * time.Second
	}
	return c
}

// Hooks are the side effects a Machine drives as it transitions. Each is
// called, after the machine's lock is released, on the goroutine whose
// method call caused the transition, so they must not block for long; long work (STT finalize, LLM+TTS turn) should be
// started from within them and observed via Deliver*.
type Hooks struct {
	// OnFinalize is invoked when Listening -> Finalizing fires, to request
	// the STT engine's finalize().
	OnFinalize func()

	// OnRespond is invoked when Finalizing -> Responding fires with the
	// settled final text, to drive the response pipeline.
	OnRespond func(finalText string)

	// OnIdle is invoked whenever the machine settles back to Idle, from
	// any prior state.
	OnIdle func()

	// OnReconnect is never invoked by Machine. STT reconnect attempts are
	// run by the caller, which reports a terminal failure through
	// ReconnectFailed.
	OnReconnect func()

	// OnError is invoked with a user-facing error line when failure
	// semantics require one (terminal STT failure, LLM failure).
	OnError func(message string)
}

// Machine runs the speaking-turn state machine for one session. The zero
// value is not usable; construct with New.
type Machine struct {
	cfg   Config
	hooks Hooks

	ownerUserID string

	mu            sync.Mutex
	state         State
	speakerID     string
	lastAudioTime time.Time
	utteranceAt   time.Time

	bestPartial string
}

// New creates a Machine for a session owned by ownerUserID — the one
// participant whose speaker_start/audio/speaker_end events this machine
// will honor.
func New(ownerUserID string, cfg Config, hooks Hooks) *Machine {
	return &Machine{
		cfg:         cfg.withDefaults(),
		hooks:       hooks,
		ownerUserID: ownerUserID,
		state:       Idle,
	}
}

// State returns the machine's current state. Safe for concurrent use.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start handles on_speaker_start(user_id). Returns StartBusy without effect
// if a different speaker is already being listened to — per design, a
// second concurrent speaker is ignored, not queued.
func (m *Machine) Start(userID string) StartResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Idle {
		return StartBusy
	}
	if userID != m.ownerUserID {
		return StartBusy
	}

	now := time.Now()
	m.state = Listening
	m.speakerID = userID
	m.lastAudioTime = now
	m.utteranceAt = now
	m.bestPartial = ""
	return StartOK
}

// OnAudio handles an inbound audio frame. It is a no-op unless the machine
// is Listening and the frame's speaker matches the locked speaker.
// last_audio_time is updated for every frame observed in Listening,
// including frames that decode to no PCM, before the silence check fires —
// this must be called once per inbound frame regardless of decode outcome.
func (m *Machine) OnAudio(speakerID string) {
	m.mu.Lock()
	if m.state != Listening || speakerID != m.speakerID {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	m.lastAudioTime = now
	maxElapsed := now.Sub(m.utteranceAt) >= m.cfg.MaxDuration
	m.mu.Unlock()

	// The silence timer is driven by CheckSilence, polled by the caller
	// between frames, not by this update — last_audio_time was just reset
	// to now so it could never fire here. max_duration is a fixed deadline
	// from utterance start and is checked on every frame.
	if maxElapsed {
		m.finalize()
	}
}

// CheckSilence is polled by the audio-ingest task between frames (or on a
// short ticker while idle-listening) to detect that now - last_audio_time
// has crossed SilenceThreshold. Evaluating this per-frame rather than via a
// dedicated timer goroutine avoids a frame-buffer-blocks-timer hazard.
func (m *Machine) CheckSilence() {
	m.mu.Lock()
	if m.state != Listening {
		m.mu.Unlock()
		return
	}
	elapsed := time.Since(m.lastAudioTime) >= m.cfg.SilenceThreshold
	m.mu.Unlock()
	if elapsed {
		m.finalize()
	}
}

// OnEnd handles on_end(user_id): a hint from the ingress that speech has
// stopped. It does not guarantee finalization by itself; it only lets the
// silence timer short-circuit sooner via the next CheckSilence poll by
// backdating last_audio_time.
func (m *Machine) OnEnd(userID string) {
	m.mu.Lock()
	if m.state != Listening || userID != m.speakerID {
		m.mu.Unlock()
		return
	}
	m.lastAudioTime = time.Now().Add(-m.cfg.SilenceThreshold)
	m.mu.Unlock()
}

// Finalize forces Listening -> Finalizing immediately, for an ingress that
// knows the turn ended without waiting for the silence timer (push-to-talk
// release, an explicit stop_mic control message). Idempotent: calling it
// outside Listening is a no-op, same as the internal silence/max-duration
// paths.
func (m *Machine) Finalize() {
	m.finalize()
}

// finalize drives Listening -> Finalizing. It is idempotent: calling it when
// not Listening is a no-op.
func (m *Machine) finalize() {
	m.mu.Lock()
	if m.state != Listening {
		m.mu.Unlock()
		return
	}
	m.state = Finalizing
	m.mu.Unlock()

	if m.hooks.OnFinalize != nil {
		m.hooks.OnFinalize()
	}
}

// DeliverPartial records the latest best-known partial transcript, used as
// the finalize-timeout fallback.
func (m *Machine) DeliverPartial(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Listening || m.state == Finalizing {
		m.bestPartial = text
	}
}

// DeliverFinal handles the STT engine's terminal Final transcript while
// Finalizing. An empty or filtered transcript short-circuits directly to
// Idle without invoking the response pipeline.
func (m *Machine) DeliverFinal(text string) {
	m.mu.Lock()
	if m.state != Finalizing {
		m.mu.Unlock()
		return
	}
	if text == "" {
		m.state = Idle
		m.mu.Unlock()
		if m.hooks.OnIdle != nil {
			m.hooks.OnIdle()
		}
		return
	}
	m.state = Responding
	m.mu.Unlock()

	if m.hooks.OnRespond != nil {
		m.hooks.OnRespond(text)
	}
}

// FinalizeTimeout is called by the caller's finalize-await timer when no
// Final arrived within cfg.FinalizeTimeout. It falls back to the best-known
// partial, or to Idle if there was none.
func (m *Machine) FinalizeTimeout() {
	m.mu.Lock()
	if m.state != Finalizing {
		m.mu.Unlock()
		return
	}
	fallback := m.bestPartial
	m.mu.Unlock()
	m.DeliverFinal(fallback)
}

// ResponseDone handles Responding -> Idle, fired once the TTS audio for the
// final text unit has been handed to the sink.
func (m *Machine) ResponseDone() {
	m.mu.Lock()
	if m.state != Responding {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.mu.Unlock()
	if m.hooks.OnIdle != nil {
		m.hooks.OnIdle()
	}
}

// ReconnectFailed handles a terminal STT connection failure reported by the
// caller once its own reconnect attempts have failed; the Machine runs no
// reconnect or backoff itself. From any non-Idle state it transitions to
// Idle and invokes OnError with message, then OnIdle. In Idle it is a no-op.
func (m *Machine) ReconnectFailed(message string) {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.mu.Unlock()

	if m.hooks.OnError != nil {
		m.hooks.OnError(message)
	}
	if m.hooks.OnIdle != nil {
		m.hooks.OnIdle()
	}
}

// Cancel is the terminal operation: from any state it releases the speaking
// lock and transitions to Idle immediately, for ingress disconnect or
// explicit cancellation. Safe to call from any goroutine.
func (m *Machine) Cancel() {
	m.mu.Lock()
	wasIdle := m.state == Idle
	m.state = Idle
	m.speakerID = ""
	m.mu.Unlock()

	if !wasIdle && m.hooks.OnIdle != nil {
		m.hooks.OnIdle()
	}
}
