// Package wire implements an stt.Provider speaking the gateway's own
// documented WebSocket protocol against a remote STT process: a thin
// client for the "hosted STT engine" case, as opposed to embedding a
// transcription engine in-process.
//
// Wire messages are JSON control frames plus raw binary audio frames on one
// bidirectional WebSocket per session:
//
//	-> {"type":"start","userId":"...","audio_format":"opus"|"pcm"}  (first message, authoritative)
//	-> binary frame                                                  (raw audio, in order)
//	-> {"type":"finalize"}
//	-> {"type":"close"}
//	<- {"type":"ready"}
//	<- {"type":"partial","text":"..."}   (zero or more)
//	<- {"type":"final","text":"..."}     (exactly one, terminal)
//	<- {"type":"error","error":"..."}
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/types"
)

var _ stt.Provider = (*Provider)(nil)

const (
	defaultConnectTimeout = 2 * time.Second
	audioQueueDepth       = 64
)

// Provider dials a remote STT engine speaking the gateway wire protocol.
type Provider struct {
	url            string
	connectTimeout time.Duration
	httpClient     *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithConnectTimeout overrides the default 2s stream-open deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Provider) { p.connectTimeout = d }
}

// New constructs a Provider dialing wsURL (e.g. "wss://stt.internal/v1/stream").
func New(wsURL string, opts ...Option) (*Provider, error) {
	if wsURL == "" {
		return nil, errors.New("wire: url must not be empty")
	}
	p := &Provider{
		url:            wsURL,
		connectTimeout: defaultConnectTimeout,
		httpClient:     &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type startMessage struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	AudioFormat string `json:"audio_format"`
	Language    string `json:"language,omitempty"`
}

type controlMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func wireFormat(f stt.AudioFormat) string {
	if f == stt.FormatPCM16k {
		return "pcm"
	}
	return "opus"
}

// StartStream opens a new WebSocket to the STT engine, sends the
// authoritative start message, and waits for "ready" before returning.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	connectCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(connectCtx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial: %w", err)
	}

	start := startMessage{
		Type:        "start",
		AudioFormat: wireFormat(cfg.AudioFormat),
		Language:    cfg.Language,
	}
	startBytes, _ := json.Marshal(start)
	if err := conn.Write(connectCtx, websocket.MessageText, startBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send start")
		return nil, fmt.Errorf("wire: send start: %w", err)
	}

	if err := awaitReady(connectCtx, conn); err != nil {
		conn.Close(websocket.StatusInternalError, "ready handshake failed")
		return nil, err
	}

	sess := &session{
		conn:     conn,
		partials: make(chan types.Transcript, 32),
		finals:   make(chan types.Transcript, 1),
		audioQ:   make(chan []byte, audioQueueDepth),
		done:     make(chan struct{}),
	}
	go sess.writeLoop()
	go sess.readLoop()
	return sess, nil
}

func awaitReady(ctx context.Context, conn *websocket.Conn) error {
	_, msg, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("wire: await ready: %w", err)
	}
	var sm serverMessage
	if err := json.Unmarshal(msg, &sm); err != nil {
		return fmt.Errorf("wire: parse ready: %w", err)
	}
	if sm.Type == "error" {
		return fmt.Errorf("wire: engine rejected start: %s", sm.Error)
	}
	if sm.Type != "ready" {
		return fmt.Errorf("wire: expected ready, got %q", sm.Type)
	}
	return nil
}

// Health dials the engine's WebSocket URL and closes the connection again;
// since the protocol itself has no dedicated health verb, a failed dial is
// reported as down and a successful one as ok.
func (p *Provider) Health(ctx context.Context) stt.Health {
	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, p.url, nil)
	if err != nil {
		return stt.HealthDown
	}
	conn.Close(websocket.StatusNormalClosure, "health check")
	return stt.HealthOK
}

// session implements stt.SessionHandle over one wire-protocol WebSocket.
type session struct {
	conn *websocket.Conn

	partials chan types.Transcript
	finals   chan types.Transcript
	audioQ   chan []byte

	closeOnce sync.Once
	done      chan struct{}

	finalizeOnce sync.Once
}

var _ stt.SessionHandle = (*session)(nil)

func (s *session) SendAudio(chunk []byte) error {
	select {
	case s.audioQ <- chunk:
		return nil
	case <-s.done:
		return errors.New("wire: session closed")
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

func (s *session) Finalize() error {
	var sendErr error
	s.finalizeOnce.Do(func() {
		select {
		case s.audioQ <- nil: // nil sentinel signals finalize to writeLoop
		case <-s.done:
			sendErr = errors.New("wire: session closed")
		}
	})
	return sendErr
}

func (s *session) SetKeywords(keywords []types.KeywordBoost) error {
	return stt.ErrNotSupported
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return err
}

// writeLoop drains audioQ in order onto the WebSocket as binary frames. A
// nil chunk is the internal sentinel for Finalize; it sends the finalize
// control message instead of a binary frame, preserving send order.
func (s *session) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case chunk := <-s.audioQ:
			if chunk == nil {
				msg, _ := json.Marshal(controlMessage{Type: "finalize"})
				_ = s.conn.Write(ctx, websocket.MessageText, msg)
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			msg, _ := json.Marshal(controlMessage{Type: "close"})
			_ = s.conn.Write(ctx, websocket.MessageText, msg)
			return
		}
	}
}

// readLoop parses incoming server messages until the terminal Final, a
// protocol error, or the connection drops, then closes both output channels.
func (s *session) readLoop() {
	defer close(s.partials)
	defer close(s.finals)

	ctx := context.Background()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		var sm serverMessage
		if err := json.Unmarshal(msg, &sm); err != nil {
			continue
		}
		switch sm.Type {
		case "partial":
			select {
			case s.partials <- types.Transcript{Kind: types.Partial, Text: sm.Text}:
			case <-s.done:
				return
			}
		case "final":
			select {
			case s.finals <- types.Transcript{Kind: types.Final, Text: sm.Text}:
			case <-s.done:
			}
			return
		case "error":
			return
		}
	}
}
