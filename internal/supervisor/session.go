package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/internal/uttstate"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/types"
)

const (
	silencePollInterval = 100 * time.Millisecond
	defaultFinalizeTimeout = 2 * time.Second

	// STT reconnect backoff (spec §4.2): up to N attempts, base 1s, capped
	// at 10s, independent from the chat-platform voice-connection
	// reconnector in internal/session/reconnect.go (that one redials an
	// audio.Platform voice channel; this one redials the per-utterance
	// stt.SessionHandle, a narrower and shorter-lived resource that the
	// generic Reconnector's Connect/Close shape does not fit cleanly).
	sttReconnectBaseBackoff = 1 * time.Second
	sttReconnectMaxBackoff  = 10 * time.Second
	sttReconnectMaxAttempts = 5

	respondTimeout = 30 * time.Second
)

// Sink is what an ingress adapter must implement to receive synthesized
// playback audio. Both chatvoice.Adapter and browserws.Adapter satisfy this.
type Sink interface {
	Play(ctx context.Context, pcm []byte) error
}

// sinkWriter adapts a Sink's Play method to pipeline.AudioSink's Write, so
// the response pipeline never needs to know about ingress-specific naming.
type sinkWriter struct{ sink Sink }

func (w sinkWriter) Write(ctx context.Context, pcm []byte) error { return w.sink.Play(ctx, pcm) }

// Optional narrower interfaces an ingress Sink may additionally implement,
// to receive the browser-only side-channel JSON events (spec §4.8, §6.4).
// chatvoice.Adapter implements none of these, so notifications there are
// simply skipped; browserws.Adapter implements all of them.
type (
	partialNotifier  interface{ EmitPartialTranscript(string) }
	finalNotifier    interface{ EmitFinalTranscript(string) }
	chunkNotifier    interface{ EmitResponseChunk(string) }
	completeNotifier interface{ EmitResponseComplete() }
	ttsNotifier      interface{ EmitTTSStart(); EmitTTSComplete() }
	stopNotifier     interface{ EmitStopListening() }
	speakingNotifier interface{ EmitBotSpeakingStateChanged(bool) }
	errorNotifier    interface{ EmitServiceError(string) }
)

// liveSession wires one uttstate.Machine to its STT/LLM/TTS providers and
// an ingress Sink, running the per-utterance STT session and response
// pipeline this machine's hooks drive.
type liveSession struct {
	id      string
	userID  string
	deps    Deps
	sink    Sink
	sttCfg  stt.StreamConfig
	agent   store.Agent

	finalizeTimeout time.Duration

	machine *uttstate.Machine

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sttSession stt.SessionHandle
	closed     bool
}

func newLiveSession(parent context.Context, deps Deps, storeSess store.Session, agent store.Agent, cfg AttachConfig) *liveSession {
	ctx, cancel := context.WithCancel(parent)

	finalizeTimeout := deps.UtteranceConfig.FinalizeTimeout
	if finalizeTimeout <= 0 {
		finalizeTimeout = defaultFinalizeTimeout
	}

	ls := &liveSession{
		id:     storeSess.ID,
		userID: cfg.UserID,
		deps:   deps,
		sink:   cfg.Sink,
		agent:  agent,
		sttCfg: stt.StreamConfig{
			AudioFormat: cfg.AudioFormat,
			SampleRate:  cfg.SampleRate,
			Channels:    cfg.Channels,
			Language:    cfg.Language,
		},
		finalizeTimeout: finalizeTimeout,
		ctx:             ctx,
		cancel:          cancel,
	}
	ls.machine = uttstate.New(cfg.UserID, deps.UtteranceConfig, uttstate.Hooks{
		OnFinalize:  ls.handleFinalize,
		OnRespond:   ls.handleRespond,
		OnIdle:      ls.handleIdle,
		OnReconnect: ls.handleReconnectHint,
		OnError:     ls.emitError,
	})
	return ls
}

// handle applies one dispatched Event to this session's state machine.
func (ls *liveSession) handle(ev Event) {
	switch ev.Kind {
	case EventSpeakerStart:
		if ls.machine.Start(ev.SpeakerID) == uttstate.StartOK {
			ls.openSTT()
		} else if ls.deps.Metrics != nil {
			ls.deps.Metrics.RecordSecondSpeakerIgnored(ls.ctx)
		}
	case EventAudio:
		ls.machine.OnAudio(ev.SpeakerID)
		ls.sendAudio(ev.Audio)
	case EventSpeakerEnd:
		ls.machine.OnEnd(ev.SpeakerID)
	case EventFinalize:
		ls.machine.Finalize()
	case EventCancel:
		ls.machine.Cancel()
		ls.closeSTT()
	case EventDisconnect:
		ls.machine.Cancel()
		ls.close()
	}
}

// pollSilence drives uttstate.Machine.CheckSilence on a short ticker while
// this session is live, per the Machine's own documented polling contract.
func (ls *liveSession) pollSilence() {
	t := time.NewTicker(silencePollInterval)
	defer t.Stop()
	for {
		select {
		case <-ls.ctx.Done():
			return
		case <-t.C:
			ls.machine.CheckSilence()
		}
	}
}

func (ls *liveSession) openSTT() {
	sess, err := ls.deps.STT.StartStream(ls.ctx, ls.sttCfg)
	if err != nil {
		ls.machine.ReconnectFailed(fmt.Sprintf("could not start speech recognition: %v", err))
		return
	}
	ls.setSTTSession(sess)
	go ls.readSTT(sess)
}

func (ls *liveSession) setSTTSession(sess stt.SessionHandle) {
	ls.mu.Lock()
	ls.sttSession = sess
	ls.mu.Unlock()
}

func (ls *liveSession) currentSTTSession() stt.SessionHandle {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.sttSession
}

func (ls *liveSession) sendAudio(pcm []byte) {
	sess := ls.currentSTTSession()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(pcm); err != nil {
		slog.Warn("supervisor: stt send failed", "session_id", ls.id, "error", err)
	}
}

// readSTT drains one STT session's partials and finals until both channels
// close (the session is scoped to exactly one utterance; see
// pkg/provider/stt/wire's readLoop, which returns immediately after its one
// terminal Final). If the channels close without ever delivering a Final
// while the machine is still mid-utterance, the stream dropped
// unexpectedly and reconnectSTT takes over.
func (ls *liveSession) readSTT(sess stt.SessionHandle) {
	partials := sess.Partials()
	finals := sess.Finals()
	gotFinal := false

	for partials != nil || finals != nil {
		select {
		case p, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			ls.machine.DeliverPartial(p.Text)
			ls.notifyPartial(p.Text)
		case f, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			gotFinal = true
			ls.notifyFinal(f.Text)
			ls.machine.DeliverFinal(f.Text)
		}
	}

	if !gotFinal && ls.machine.State() == uttstate.Listening {
		slog.Warn("supervisor: stt stream ended without a final transcript", "session_id", ls.id)
		ls.reconnectSTT()
	}
}

func (ls *liveSession) reconnectSTT() {
	backoff := sttReconnectBaseBackoff
	for attempt := 1; attempt <= sttReconnectMaxAttempts; attempt++ {
		select {
		case <-ls.ctx.Done():
			return
		case <-time.After(backoff):
		}
		sess, err := ls.deps.STT.StartStream(ls.ctx, ls.sttCfg)
		if err == nil {
			ls.setSTTSession(sess)
			go ls.readSTT(sess)
			return
		}
		backoff *= 2
		if backoff > sttReconnectMaxBackoff {
			backoff = sttReconnectMaxBackoff
		}
	}
	ls.machine.ReconnectFailed("speech recognition connection could not be restored")
}

func (ls *liveSession) closeSTT() {
	ls.mu.Lock()
	sess := ls.sttSession
	ls.sttSession = nil
	ls.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// handleFinalize is uttstate.Hooks.OnFinalize: it requests the STT engine's
// terminal Final and starts the await-timeout fallback.
func (ls *liveSession) handleFinalize() {
	ls.notifyStopListening()

	sess := ls.currentSTTSession()
	if sess == nil {
		ls.machine.DeliverFinal("")
		return
	}
	if err := sess.Finalize(); err != nil {
		slog.Warn("supervisor: stt finalize failed", "session_id", ls.id, "error", err)
	}

	go func() {
		select {
		case <-time.After(ls.finalizeTimeout):
			ls.machine.FinalizeTimeout()
		case <-ls.ctx.Done():
		}
	}()
}

// handleRespond is uttstate.Hooks.OnRespond: it persists the user's final
// text, drives the LLM + response pipeline, persists the assistant's
// message, and returns the machine to Idle.
func (ls *liveSession) handleRespond(finalText string) {
	go ls.runResponse(finalText)
}

func (ls *liveSession) runResponse(finalText string) {
	defer ls.machine.ResponseDone()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("supervisor: recovered panic in response pipeline", "session_id", ls.id, "panic", r)
			ls.emitError("an internal error interrupted this turn")
		}
	}()

	ctx, cancel := context.WithTimeout(ls.ctx, respondTimeout)
	defer cancel()

	if _, err := ls.deps.Store.AppendMessage(ctx, ls.id, store.RoleUser, finalText, false, nil); err != nil {
		slog.Error("supervisor: append user message failed", "session_id", ls.id, "error", err)
	}

	history, err := ls.deps.Store.GetContext(ctx, ls.id, 20)
	if err != nil {
		ls.emitError("could not load conversation history")
		return
	}

	messages := make([]types.ChatMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, types.ChatMessage{Role: types.Role(m.Role), Text: m.Text})
	}

	chunks, err := ls.deps.LLM.GenerateStream(ctx, llm.GenerateRequest{
		Messages:     messages,
		SystemPrompt: ls.agent.SystemPrompt,
		Model:        ls.agent.LLMModelID,
		Temperature:  ls.agent.Temperature,
	})
	if err != nil {
		ls.emitError("the assistant could not generate a response")
		return
	}

	var assistantText strings.Builder
	teed := make(chan llm.Chunk)
	go func() {
		defer close(teed)
		for c := range chunks {
			if c.Text != "" {
				assistantText.WriteString(c.Text)
				ls.notifyChunk(c.Text)
			}
			select {
			case teed <- c:
			case <-ctx.Done():
				return
			}
		}
		ls.notifyComplete()
	}()

	voice := types.VoiceProfile{
		ID:                 ls.agent.TTSVoiceID,
		EmotionalIntensity: ls.agent.TTSIntensity,
		PaceWeight:         ls.agent.TTSPaceWeight,
		Temperature:        ls.agent.TTSTemp,
		Language:           ls.agent.Language,
	}

	pcfg := ls.deps.PipelineConfig
	pcfg.ErrorPolicy = ls.resolveErrorPolicy()

	incomplete := false
	metrics := pipeline.Metrics{
		OnUnitSkipped: func() {
			incomplete = true
			if ls.deps.Metrics != nil {
				ls.deps.Metrics.TTSUnitsSkipped.Add(ls.ctx, 1)
			}
		},
		OnUnitRetried: func() {
			if ls.deps.Metrics != nil {
				ls.deps.Metrics.TTSUnitsRetried.Add(ls.ctx, 1)
			}
		},
		OnInterrupted: func(policy pipeline.InterruptionPolicy) {
			if ls.deps.Metrics != nil {
				ls.deps.Metrics.RecordTurnInterrupted(ls.ctx, interruptionPolicyName(policy))
			}
		},
	}

	ls.notifyTTSStart()
	p := pipeline.New(ls.deps.TTS, voice, sinkWriter{ls.sink}, pcfg, metrics)
	if err := p.Run(ctx, teed); err != nil {
		slog.Warn("supervisor: response pipeline ended with error", "session_id", ls.id, "error", err)
	}
	ls.notifyTTSComplete()

	if _, err := ls.deps.Store.AppendMessage(ls.ctx, ls.id, store.RoleAssistant, assistantText.String(), incomplete, nil); err != nil {
		slog.Error("supervisor: append assistant message failed", "session_id", ls.id, "error", err)
	}
}

func (ls *liveSession) resolveErrorPolicy() pipeline.ErrorPolicy {
	switch ls.agent.TTSErrorPolicy {
	case store.TTSErrorPolicySkip:
		return pipeline.ErrorSkip
	case store.TTSErrorPolicyRetry:
		return pipeline.ErrorRetry
	default:
		return ls.deps.PipelineConfig.ErrorPolicy
	}
}

func interruptionPolicyName(p pipeline.InterruptionPolicy) string {
	switch p {
	case pipeline.Immediate:
		return "immediate"
	case pipeline.Drain:
		return "drain"
	default:
		return "graceful"
	}
}

func (ls *liveSession) handleIdle() {
	ls.closeSTT()
}

// handleReconnectHint is uttstate.Hooks.OnReconnect, a pure observability
// hook: the actual reconnect attempt is driven from readSTT's
// closure-detection path, not from here, since the machine never calls
// this during a live connection drop on its own (only readSTT observes the
// channel closure).
func (ls *liveSession) handleReconnectHint() {
	slog.Info("supervisor: stt reconnect requested", "session_id", ls.id)
}

func (ls *liveSession) close() {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return
	}
	ls.closed = true
	ls.mu.Unlock()

	ls.cancel()
	ls.closeSTT()
	if err := ls.deps.Store.EndSession(context.Background(), ls.id); err != nil {
		slog.Warn("supervisor: end session failed", "session_id", ls.id, "error", err)
	}
}

func (ls *liveSession) emitError(message string) {
	if n, ok := ls.sink.(errorNotifier); ok {
		n.EmitServiceError(message)
		return
	}
	slog.Warn("supervisor: session error", "session_id", ls.id, "error", message)
}

func (ls *liveSession) notifyPartial(text string) {
	if n, ok := ls.sink.(partialNotifier); ok {
		n.EmitPartialTranscript(text)
	}
}

func (ls *liveSession) notifyFinal(text string) {
	if n, ok := ls.sink.(finalNotifier); ok {
		n.EmitFinalTranscript(text)
	}
}

func (ls *liveSession) notifyChunk(text string) {
	if n, ok := ls.sink.(chunkNotifier); ok {
		n.EmitResponseChunk(text)
	}
}

func (ls *liveSession) notifyComplete() {
	if n, ok := ls.sink.(completeNotifier); ok {
		n.EmitResponseComplete()
	}
}

func (ls *liveSession) notifyTTSStart() {
	if n, ok := ls.sink.(ttsNotifier); ok {
		n.EmitTTSStart()
	}
	if n, ok := ls.sink.(speakingNotifier); ok {
		n.EmitBotSpeakingStateChanged(true)
	}
}

func (ls *liveSession) notifyTTSComplete() {
	if n, ok := ls.sink.(ttsNotifier); ok {
		n.EmitTTSComplete()
	}
	if n, ok := ls.sink.(speakingNotifier); ok {
		n.EmitBotSpeakingStateChanged(false)
	}
}

func (ls *liveSession) notifyStopListening() {
	if n, ok := ls.sink.(stopNotifier); ok {
		n.EmitStopListening()
	}
}
