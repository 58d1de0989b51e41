// Package browserws implements the browser microphone ingress: one
// WebSocket per session, serving the "/ws/voice?session_id=...&user_id=..."
// protocol, decoding inbound streaming-Opus-container chunks to PCM
// server-side, and emitting the JSON event set plus binary synthesized
// audio frames outbound.
//
// New, grounded on github.com/coder/websocket's connection-handling idiom
// as already used by pkg/provider/tts/elevenlabs/elevenlabs.go (one
// reader goroutine, one writer goroutine, a buffered outbound channel
// between them) and pkg/provider/stt/wire/wire.go's JSON-control-plus-
// binary-frame framing discipline.
package browserws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/codec"
)

const outboundQueueDepth = 64

// EventType names one of the outbound JSON event kinds from spec §6.4.
type EventType string

const (
	EventPartialTranscript       EventType = "partial_transcript"
	EventFinalTranscript         EventType = "final_transcript"
	EventAIResponseChunk         EventType = "ai_response_chunk"
	EventAIResponseComplete      EventType = "ai_response_complete"
	EventTTSStart                EventType = "tts_start"
	EventTTSComplete             EventType = "tts_complete"
	EventServiceError            EventType = "service_error"
	EventStopListening           EventType = "stop_listening"
	EventBotSpeakingStateChanged EventType = "bot_speaking_state_changed"
)

type outboundEvent struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	Speaking bool      `json:"speaking,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// inboundControl is the shape of every inbound text frame: the first-chunk
// session_init (carrying the declared audio_format) or a later stop_mic
// hint. Unknown types are ignored rather than treated as a protocol error,
// so the wire format can grow new control messages without breaking older
// adapters.
type inboundControl struct {
	Type        string `json:"type"`
	AudioFormat string `json:"audio_format,omitempty"`
}

// Handlers are the callbacks an Adapter drives as it observes the
// connection. Any nil handler is simply not invoked.
type Handlers struct {
	OnAudio        func(pcm []byte)
	OnSpeakerStart func()
	OnSpeakerEnd   func()
	OnDisconnect   func()
}

// outboundMsg is the tagged union written by writeLoop, preserving send
// order across JSON events and binary audio frames.
type outboundMsg struct {
	event *outboundEvent
	audio []byte
}

// Adapter is one browser voice session: a single *websocket.Conn plus the
// per-connection decoder state codec.ContainerOpus needs to survive across
// the connection's turns.
//
// Safe for concurrent use: Emit* and Play may be called from the response
// pipeline's goroutines while readLoop/writeLoop run independently.
type Adapter struct {
	conn      *websocket.Conn
	sessionID string
	userID    string

	handlers Handlers

	outboundQ chan outboundMsg
	done      chan struct{}
	closeOnce sync.Once
}

// Accept upgrades r to a WebSocket, reads the mandatory session_init
// control frame, and returns a ready Adapter with its read/write loops
// already running. sessionID and userID come from the query parameters
// the caller (internal/server) has already validated.
func Accept(w http.ResponseWriter, r *http.Request, sessionID, userID string, h Handlers) (*Adapter, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("browserws: accept: %w", err)
	}

	initCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := awaitSessionInit(initCtx, conn); err != nil {
		conn.Close(websocket.StatusProtocolError, "expected session_init")
		return nil, err
	}

	a := &Adapter{
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		handlers:  h,
		outboundQ: make(chan outboundMsg, outboundQueueDepth),
		done:      make(chan struct{}),
	}

	go a.writeLoop()
	go a.readLoop()

	if h.OnSpeakerStart != nil {
		h.OnSpeakerStart()
	}
	return a, nil
}

func awaitSessionInit(ctx context.Context, conn *websocket.Conn) error {
	typ, msg, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("browserws: read session_init: %w", err)
	}
	if typ != websocket.MessageText {
		return errors.New("browserws: expected text session_init as first frame")
	}
	var ctrl inboundControl
	if err := json.Unmarshal(msg, &ctrl); err != nil {
		return fmt.Errorf("browserws: parse session_init: %w", err)
	}
	if ctrl.Type != "session_init" {
		return fmt.Errorf("browserws: expected session_init, got %q", ctrl.Type)
	}
	return nil
}

// readLoop decodes inbound binary container-Opus chunks to PCM (the
// browser variant always decodes server-side; see spec §4.8) and dispatches
// stop_mic hints, until the connection closes.
func (a *Adapter) readLoop() {
	defer a.teardown()

	dec, err := codec.NewContainerOpus()
	if err != nil {
		return
	}

	ctx := context.Background()
	for {
		typ, msg, err := a.conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			result, err := dec.Decode(msg)
			if err != nil || result.InvalidData {
				continue
			}
			if len(result.PCM) > 0 && a.handlers.OnAudio != nil {
				a.handlers.OnAudio(result.PCM)
			}
		case websocket.MessageText:
			var ctrl inboundControl
			if err := json.Unmarshal(msg, &ctrl); err != nil {
				continue
			}
			if ctrl.Type == "stop_mic" {
				dec.Reset()
				if a.handlers.OnSpeakerEnd != nil {
					a.handlers.OnSpeakerEnd()
				}
			}
		}
	}
}

// writeLoop drains outboundQ in order, serializing all writes onto the one
// connection the coder/websocket client requires them single-threaded on.
func (a *Adapter) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case m := <-a.outboundQ:
			if m.event != nil {
				b, _ := json.Marshal(m.event)
				if err := a.conn.Write(ctx, websocket.MessageText, b); err != nil {
					return
				}
				continue
			}
			if err := a.conn.Write(ctx, websocket.MessageBinary, m.audio); err != nil {
				return
			}
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) enqueue(m outboundMsg) {
	select {
	case a.outboundQ <- m:
	case <-a.done:
	}
}

// EmitPartialTranscript sends a partial_transcript event.
func (a *Adapter) EmitPartialTranscript(text string) {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventPartialTranscript, Text: text}})
}

// EmitFinalTranscript sends a final_transcript event.
func (a *Adapter) EmitFinalTranscript(text string) {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventFinalTranscript, Text: text}})
}

// EmitResponseChunk sends an ai_response_chunk event carrying one fragment
// of the LLM's streamed reply.
func (a *Adapter) EmitResponseChunk(text string) {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventAIResponseChunk, Text: text}})
}

// EmitResponseComplete sends ai_response_complete once the LLM stream ends.
func (a *Adapter) EmitResponseComplete() {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventAIResponseComplete}})
}

// EmitTTSStart sends tts_start when synthesis of the reply begins.
func (a *Adapter) EmitTTSStart() {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventTTSStart}})
}

// EmitTTSComplete sends tts_complete when all synthesized audio has been
// written to the connection.
func (a *Adapter) EmitTTSComplete() {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventTTSComplete}})
}

// EmitServiceError reports a user-facing failure line.
func (a *Adapter) EmitServiceError(message string) {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventServiceError, Error: message}})
}

// EmitStopListening signals that silence detection finalized the current
// utterance; the connection itself persists across turns.
func (a *Adapter) EmitStopListening() {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventStopListening}})
}

// EmitBotSpeakingStateChanged reports whether the assistant's audio is
// currently playing, so the browser client can suppress its own mic input
// while the bot talks.
func (a *Adapter) EmitBotSpeakingStateChanged(speaking bool) {
	a.enqueue(outboundMsg{event: &outboundEvent{Type: EventBotSpeakingStateChanged, Speaking: speaking}})
}

// Play writes pcm as a binary outbound audio frame, synthesized speech for
// the browser client to play. Implements pipeline.AudioSink.
func (a *Adapter) Play(ctx context.Context, pcm []byte) error {
	select {
	case a.outboundQ <- outboundMsg{audio: pcm}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return fmt.Errorf("browserws: adapter closed")
	}
}

// Close ends the connection and stops the adapter's goroutines. Safe to
// call more than once; concurrent with readLoop's own teardown on
// disconnect.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return err
}

func (a *Adapter) teardown() {
	if a.handlers.OnDisconnect != nil {
		a.handlers.OnDisconnect()
	}
	a.Close()
}
