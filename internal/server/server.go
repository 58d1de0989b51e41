// Package server is voxgated's HTTP surface (spec §6.4): it exposes
// /healthz and /readyz (internal/health), /metrics (the Prometheus
// exporter internal/observe.InitProvider registers), and /ws/voice, the
// browser microphone ingress. It owns no session state itself — every
// inbound connection is translated to internal/supervisor.Supervisor
// Attach/Dispatch/Detach calls and otherwise forgotten.
//
// Grounded on the teacher's cmd/glyphoxa/main.go top-level wiring style:
// one net/http.ServeMux, plain handler functions, no web framework.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/ingress/browserws"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/internal/supervisor"
	"github.com/voxgate/voxgate/pkg/provider/stt"
)

// Deps are the dependencies the HTTP server needs to route browser
// WebSocket connections to the session supervisor.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Health     *health.Handler
	Metrics    *observe.Metrics // may be nil; middleware is then skipped

	// DefaultAgentID is used when a /ws/voice connection's agent_id query
	// parameter is omitted, per the decided Open Question recorded in
	// DESIGN.md (the wire protocol in spec §6.4 names only session_id and
	// user_id).
	DefaultAgentID string

	// DefaultLanguage seeds AttachConfig.Language when the client doesn't
	// override it.
	DefaultLanguage string
}

// Server is voxgated's HTTP surface.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New builds a Server with every route registered.
func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	if deps.Health != nil {
		deps.Health.Register(s.mux)
	}
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/voice", s.handleWS)
	return s
}

// Handler returns the server's http.Handler, wrapped in the observability
// middleware (correlation id, span, request duration) when Metrics is set.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.deps.Metrics != nil {
		h = observe.Middleware(s.deps.Metrics)(h)
	}
	return h
}

// handleWS serves the browser microphone ingress: it upgrades the
// connection via browserws.Accept, attaches a new session to the
// supervisor on the first speaker_start, and forwards every subsequent
// ingress event to supervisor.Dispatch until the client disconnects.
//
// browserws.Accept invokes Handlers.OnSpeakerStart synchronously, before
// it returns the *browserws.Adapter this handler needs as the session's
// playback Sink — so Attach is given a lazySink that blocks Play calls
// until bind is called right after Accept returns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	agentID := q.Get("agent_id")
	if agentID == "" {
		agentID = s.deps.DefaultAgentID
	}
	sessionHint := q.Get("session_id")
	if userID == "" || agentID == "" {
		http.Error(w, "user_id and agent_id are required", http.StatusBadRequest)
		return
	}

	sink := newLazySink()
	var sessionID string
	var attachErr error

	handlers := browserws.Handlers{
		OnSpeakerStart: func() {
			sessionID, attachErr = s.deps.Supervisor.Attach(r.Context(), supervisor.AttachConfig{
				UserID: userID,
				AgentID: agentID,
				Ingress: store.IngressBrowser,
				Sink:    sink,
				// The browser variant always decodes container-Opus to PCM
				// server-side (spec §4.8) before handing it to STT.
				AudioFormat: stt.FormatPCM16k,
				SampleRate:  16000,
				Channels:    1,
				Language:    s.deps.DefaultLanguage,
			})
			if attachErr != nil {
				slog.Error("server: attach failed", "error", attachErr, "user_id", userID, "agent_id", agentID)
				return
			}
			s.deps.Supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventSpeakerStart, SpeakerID: userID})
		},
		OnAudio: func(pcm []byte) {
			if sessionID == "" {
				return
			}
			s.deps.Supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventAudio, SpeakerID: userID, Audio: pcm})
		},
		OnSpeakerEnd: func() {
			if sessionID == "" {
				return
			}
			s.deps.Supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventSpeakerEnd, SpeakerID: userID})
		},
		OnDisconnect: func() {
			if sessionID == "" {
				return
			}
			s.deps.Supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventDisconnect, SpeakerID: userID})
			s.deps.Supervisor.Detach(sessionID)
		},
	}

	adapter, err := browserws.Accept(w, r, sessionHint, userID, handlers)
	if err != nil {
		slog.Warn("server: websocket accept failed", "error", err, "user_id", userID)
		return
	}
	sink.bind(adapter)

	if attachErr != nil {
		adapter.EmitServiceError("could not start session")
		_ = adapter.Close()
		return
	}

	<-r.Context().Done()
}
