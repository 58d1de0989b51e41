// Package supervisor owns the set of live sessions (spec §4.9): it attaches
// an ingress connection to a fresh per-session state machine, dispatches
// inbound events to the right session in arrival order, and detaches
// cleanly on disconnect. Cross-session events are independent; the
// supervisor never serializes session work against the map lock, only the
// map lookup itself.
//
// Grounded on internal/app/session_manager.go's single-active-session
// pattern, generalized from one active session to a session map, and on
// internal/agent/orchestrator/orchestrator.go's
// snapshot-under-lock-then-release-before-I/O discipline for Dispatch.
// Per-session panic containment is grounded on the teacher's
// `closers []func() error` ordered-teardown pattern in internal/app/app.go,
// adapted so a recovered panic inside one session's pipeline transitions
// only that session to Idle rather than tearing down the process.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/internal/uttstate"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// EventKind names one of the events an ingress adapter dispatches to a
// session, per spec §4.9.
type EventKind int

const (
	EventSpeakerStart EventKind = iota
	EventAudio
	EventSpeakerEnd
	EventFinalize
	EventCancel
	EventDisconnect
)

// Event is one inbound occurrence for a session. SpeakerID is required for
// EventSpeakerStart/EventAudio/EventSpeakerEnd; Audio carries decoded PCM
// for EventAudio.
type Event struct {
	Kind      EventKind
	SpeakerID string
	Audio     []byte
}

// Deps are the provider and store dependencies shared by every session the
// Supervisor attaches.
type Deps struct {
	STT             stt.Provider
	LLM             llm.Provider
	TTS             tts.Provider
	Store           store.Store
	UtteranceConfig uttstate.Config
	PipelineConfig  pipeline.Config

	// Metrics receives session-level observability counters (second
	// speaker ignored, TTS skip/retry, turn interruptions). May be nil, in which case those events are simply
	// not recorded.
	Metrics *observe.Metrics
}

// AttachConfig describes one new or resumed session to Attach.
type AttachConfig struct {
	UserID      string
	AgentID     string
	Ingress     store.IngressKind
	Sink        Sink
	AudioFormat stt.AudioFormat
	SampleRate  int
	Channels    int
	Language    string
}

// Supervisor is the live-session registry. The zero value is not usable;
// construct with New.
type Supervisor struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// New constructs a Supervisor. deps.Store must already be able to resolve
// agent records for sessions Attach creates.
func New(deps Deps) *Supervisor {
	return &Supervisor{deps: deps, sessions: make(map[string]*liveSession)}
}

// Attach resolves or creates the (user, agent, ingress) Session, wires a
// fresh utterance state machine to it, and registers it for Dispatch.
// Returns the session ID the caller must pass to subsequent Dispatch/Detach
// calls.
func (s *Supervisor) Attach(ctx context.Context, cfg AttachConfig) (string, error) {
	storeSess, err := s.deps.Store.GetOrCreateSession(ctx, cfg.UserID, cfg.AgentID, cfg.Ingress)
	if err != nil {
		return "", fmt.Errorf("supervisor: get or create session: %w", err)
	}
	agentCfg, err := s.deps.Store.GetAgentConfig(ctx, storeSess.ID)
	if err != nil {
		return "", fmt.Errorf("supervisor: get agent config: %w", err)
	}

	ls := newLiveSession(ctx, s.deps, storeSess, agentCfg, cfg)

	s.mu.Lock()
	s.sessions[storeSess.ID] = ls
	s.mu.Unlock()

	go ls.pollSilence()

	return storeSess.ID, nil
}

// Dispatch delivers ev to sessionID's state machine. A panic anywhere
// within is contained here: it is logged, the owning session alone
// transitions to Idle with a user-visible error event, and every other
// session is unaffected.
func (s *Supervisor) Dispatch(sessionID string, ev Event) {
	s.mu.RLock()
	ls, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("supervisor: recovered panic in session", "session_id", sessionID, "panic", r)
			ls.machine.Cancel()
			ls.emitError("an internal error interrupted this turn")
		}
	}()

	ls.handle(ev)
}

// Detach cancels all per-session work, closes any open STT session, ends
// the Session in the store, and removes sessionID from the live set. Safe
// to call for an unknown or already-detached sessionID.
func (s *Supervisor) Detach(sessionID string) {
	s.mu.Lock()
	ls, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ls.close()
}

// Len reports the number of currently live sessions. Intended for tests
// and metrics.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
