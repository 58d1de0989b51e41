// Package app wires voxgated's subsystems into a running application.
//
// New creates and connects the store, provider set, session supervisor, and
// HTTP surface; Run blocks serving traffic; Shutdown tears everything down
// in order. For testing, inject doubles via functional options (WithStore,
// WithMetrics); anything not injected is built from config.
//
// Grounded on the teacher's internal/app/app.go New/Run/Shutdown lifecycle
// and its closers []func() error + sync.Once teardown discipline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/ingress/chatvoice"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/server"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/internal/store/postgres"
	"github.com/voxgate/voxgate/internal/supervisor"
	"github.com/voxgate/voxgate/internal/uttstate"
	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// Providers holds one interface value per configured provider slot. Nil
// means that provider is not configured. Populated by cmd/voxgated via the
// config registry; an already-fallback-wrapped LLM (resilience.LLMFallback)
// is indistinguishable from a plain one here — it is still just an
// llm.Provider.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// TTSFallback is the degraded synthesis path wired into
	// pipeline.Config.Fallback when an agent's error_strategy is "fallback"
	// (spec §4.6, §6.5, decided Open Question in DESIGN.md). May be nil.
	TTSFallback tts.Provider

	// Audio is the chat-platform voice backend (Discord). May be nil, in
	// which case voxgated only serves the browser /ws/voice ingress.
	Audio audio.Platform
}

// App owns every subsystem's lifetime for one running voxgated process.
type App struct {
	cfg       *config.Config
	providers *Providers

	store      store.Store
	metrics    *observe.Metrics
	supervisor *supervisor.Supervisor
	httpServer *http.Server

	reconnector *session.Reconnector
	chatAdapter *chatvoice.Adapter

	chatMu       sync.Mutex
	chatSessions map[string]string // speakerID -> supervisor session ID

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a Metrics instance instead of observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires every subsystem together: the store (seeding it with cfg.Agents),
// metrics, the session supervisor, the chat-platform voice ingress (if
// Providers.Audio is set), and the HTTP server. It performs no blocking
// I/O beyond store construction and agent seeding.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		providers:    providers,
		chatSessions: make(map[string]string),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.seedAgents(ctx); err != nil {
		return nil, fmt.Errorf("app: seed agents: %w", err)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.supervisor = supervisor.New(supervisor.Deps{
		STT:             providers.STT,
		LLM:             providers.LLM,
		TTS:             providers.TTS,
		Store:           a.store,
		UtteranceConfig: runtimeToUtteranceConfig(cfg.Runtime),
		PipelineConfig:  runtimeToPipelineConfig(cfg.Runtime, providers.TTSFallback),
		Metrics:         a.metrics,
	})

	if providers.Audio != nil {
		if err := a.initChatIngress(ctx); err != nil {
			return nil, fmt.Errorf("app: init chat ingress: %w", err)
		}
	}

	checkers := []health.Checker{a.storeChecker()}
	srv := server.New(server.Deps{
		Supervisor:      a.supervisor,
		Health:          health.New(checkers...),
		Metrics:         a.metrics,
		DefaultAgentID:  defaultAgentID(cfg),
		DefaultLanguage: cfg.Runtime.Language,
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		return a.httpServer.Shutdown(context.Background())
	})

	return a, nil
}

// initStore constructs the PostgreSQL-backed store when store.postgres_dsn
// is set, falling back to the in-memory store otherwise (spec §3, "does not
// survive a restart" — already warned about by config.Validate).
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Store.PostgresDSN == "" {
		a.store = store.NewMemStore()
		return nil
	}
	cacheTTL := time.Duration(a.cfg.Runtime.ContextCacheTTLMS) * time.Millisecond
	pg, err := postgres.New(ctx, a.cfg.Store.PostgresDSN, cacheTTL)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// seedAgents loads cfg.Agents into the store via store.AgentSeeder, so
// sessions can resolve an AgentID to a persona without a separate
// provisioning step.
func (a *App) seedAgents(ctx context.Context) error {
	seeder, ok := a.store.(store.AgentSeeder)
	if !ok {
		return nil
	}
	for _, ac := range a.cfg.Agents {
		if err := seeder.UpsertAgent(ctx, agentConfigToStoreAgent(ac, a.cfg.Runtime)); err != nil {
			return fmt.Errorf("seed agent %q: %w", ac.ID, err)
		}
	}
	return nil
}

// storeChecker builds the /readyz checker for the store dependency. The
// in-memory store is always reachable; the PostgreSQL store is probed via
// Ping.
func (a *App) storeChecker() health.Checker {
	return health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}
}

// defaultAgentID picks the first active configured agent as the fallback
// used by /ws/voice connections that omit agent_id (decided Open Question,
// DESIGN.md).
func defaultAgentID(cfg *config.Config) string {
	for _, a := range cfg.Agents {
		if a.IsActive() {
			return a.ID
		}
	}
	return ""
}

// initChatIngress connects to the configured chat-platform voice channel
// and wires its speaker events to the supervisor. Requires
// providers.audio.options.channel_id; if absent, chat voice ingress is
// disabled and only /ws/voice serves sessions.
func (a *App) initChatIngress(ctx context.Context) error {
	channelID, _ := a.cfg.Providers.Audio.Options["channel_id"].(string)
	if channelID == "" {
		slog.Warn("audio provider configured without providers.audio.options.channel_id — chat voice ingress disabled")
		return nil
	}

	a.reconnector = session.NewReconnector(session.ReconnectorConfig{
		Platform:  a.providers.Audio,
		ChannelID: channelID,
		OnReconnect: func(audio.Connection) {
			slog.Info("chat voice connection reestablished", "channel_id", channelID)
		},
	})
	conn, err := a.reconnector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect chat voice channel %q: %w", channelID, err)
	}

	agentID := defaultAgentID(a.cfg)
	handlers := chatvoice.Handlers{
		OnSpeakerStart: func(speakerID string) { a.onChatSpeakerStart(ctx, speakerID, agentID) },
		OnAudio: func(speakerID string, pcm []byte) {
			if sessionID, ok := a.chatSessionFor(speakerID); ok {
				a.supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventAudio, SpeakerID: speakerID, Audio: pcm})
			}
		},
		OnSpeakerEnd: func(speakerID string) {
			if sessionID, ok := a.chatSessionFor(speakerID); ok {
				a.supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventSpeakerEnd, SpeakerID: speakerID})
			}
		},
	}

	a.chatAdapter = chatvoice.New(conn, handlers)
	return nil
}

// onChatSpeakerStart attaches a fresh supervisor session the first time a
// speaker is heard on the chat voice channel. chatvoice.New never invokes
// handlers synchronously, so a.chatAdapter is already set by the time this
// runs — unlike the browser ingress, no lazy Sink is needed here.
func (a *App) onChatSpeakerStart(ctx context.Context, speakerID, agentID string) {
	if _, already := a.chatSessionFor(speakerID); already {
		return
	}
	sessionID, err := a.supervisor.Attach(ctx, supervisor.AttachConfig{
		UserID:      speakerID,
		AgentID:     agentID,
		Ingress:     store.IngressChat,
		Sink:        a.chatAdapter,
		AudioFormat: stt.FormatPCM16k,
		SampleRate:  48000,
		Channels:    2,
		Language:    a.cfg.Runtime.Language,
	})
	if err != nil {
		slog.Error("app: chat voice attach failed", "speaker_id", speakerID, "error", err)
		return
	}
	a.chatMu.Lock()
	a.chatSessions[speakerID] = sessionID
	a.chatMu.Unlock()
	a.supervisor.Dispatch(sessionID, supervisor.Event{Kind: supervisor.EventSpeakerStart, SpeakerID: speakerID})
}

func (a *App) chatSessionFor(speakerID string) (string, bool) {
	a.chatMu.Lock()
	defer a.chatMu.Unlock()
	id, ok := a.chatSessions[speakerID]
	return id, ok
}

// Run starts serving HTTP and blocks until ctx is cancelled or the server
// stops for any other reason.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "addr", a.httpServer.Addr, "agents", len(a.cfg.Agents))

	if a.reconnector != nil {
		go a.reconnector.Monitor(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown tears down every subsystem in reverse-init order. It respects
// ctx's deadline: once it expires, remaining closers are skipped and
// ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.chatAdapter != nil {
			if err := a.chatAdapter.Close(); err != nil {
				slog.Warn("chat adapter close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Translation helpers ─────────────────────────────────────────────────

// agentConfigToStoreAgent converts one configured agent persona to the
// store.Agent record seeded at startup. Unset per-agent fields fall back to
// the runtime defaults.
func agentConfigToStoreAgent(ac config.AgentConfig, rt config.RuntimeConfig) store.Agent {
	lang := ac.Language
	if lang == "" {
		lang = rt.Language
	}
	return store.Agent{
		ID:             ac.ID,
		Name:           ac.Name,
		SystemPrompt:   ac.SystemPrompt,
		LLMVariant:     llmVariantFor(ac.Provider),
		LLMModelID:     ac.Model,
		Temperature:    ac.Temperature,
		TTSVoiceID:     ac.TTSVoice,
		TTSIntensity:   ac.TTSExaggeration,
		TTSPaceWeight:  ac.TTSCFGWeight,
		TTSTemp:        ac.TTSTemperature,
		Language:       lang,
		TTSErrorPolicy: agentTTSErrorPolicy(ac.ErrorStrategy),
		Active:         ac.IsActive(),
	}
}

// llmVariantFor maps a provider name to store.Agent's coarse
// "hosted"|"local"|"webhook" display tri-state (distinct from the precise
// llm.Variant a Provider itself reports; see DESIGN.md).
func llmVariantFor(providerName string) string {
	switch providerName {
	case "webhook":
		return "webhook"
	case "anyllm":
		return "local"
	default:
		return "hosted"
	}
}

// agentTTSErrorPolicy maps a config.ErrorStrategy to store.TTSErrorPolicy.
// "fallback" has no dedicated per-agent value — TTS fallback requires one
// global degraded-voice provider (Providers.TTSFallback), not a per-agent
// one — so it maps to Unset, meaning "use the global default" (decided
// Open Question, DESIGN.md).
func agentTTSErrorPolicy(es config.ErrorStrategy) store.TTSErrorPolicy {
	switch es {
	case config.ErrorStrategySkip:
		return store.TTSErrorPolicySkip
	case config.ErrorStrategyRetry:
		return store.TTSErrorPolicyRetry
	default:
		return store.TTSErrorPolicyUnset
	}
}

// runtimeToUtteranceConfig translates the runtime knobs to
// uttstate.Config. FinalizeTimeout is left zero: uttstate.New applies its
// own 2s default.
func runtimeToUtteranceConfig(rt config.RuntimeConfig) uttstate.Config {
	return uttstate.Config{
		SilenceThreshold: time.Duration(rt.SilenceThresholdMS) * time.Millisecond,
		MaxDuration:      time.Duration(rt.MaxUtteranceMS) * time.Millisecond,
	}
}

// runtimeToPipelineConfig translates the runtime knobs to
// pipeline.Config. fallback may be nil, in which case ErrorFallback behaves
// like ErrorSkip (pipeline.Config.Fallback's documented zero-value behavior).
func runtimeToPipelineConfig(rt config.RuntimeConfig, fallback tts.Provider) pipeline.Config {
	return pipeline.Config{
		Strategy:           chunkStrategyFor(rt.StreamingChunkingStrategy, rt.MinChunkLength),
		MaxConcurrentTTS:   rt.MaxConcurrentTTS,
		ErrorPolicy:        errorPolicyFor(rt.ErrorStrategy),
		InterruptionPolicy: interruptionPolicyFor(rt.InterruptionStrategy),
		Fallback:           fallback,
	}
}

func chunkStrategyFor(cs config.ChunkingStrategy, minLen int) pipeline.ChunkStrategy {
	switch cs {
	case config.ChunkParagraph:
		return pipeline.ParagraphStrategy{MinLength: minLen}
	case config.ChunkWord:
		return pipeline.WordStrategy{}
	case config.ChunkFixed:
		return pipeline.FixedStrategy{N: minLen}
	default:
		return pipeline.SentenceStrategy{MinLength: minLen}
	}
}

func errorPolicyFor(es config.ErrorStrategy) pipeline.ErrorPolicy {
	switch es {
	case config.ErrorStrategyRetry:
		return pipeline.ErrorRetry
	case config.ErrorStrategyFallback:
		return pipeline.ErrorFallback
	default:
		return pipeline.ErrorSkip
	}
}

func interruptionPolicyFor(is config.InterruptionStrategy) pipeline.InterruptionPolicy {
	switch is {
	case config.InterruptionImmediate:
		return pipeline.Immediate
	case config.InterruptionDrain:
		return pipeline.Drain
	default:
		return pipeline.Graceful
	}
}
