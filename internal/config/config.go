// Package config provides the configuration schema, loader, and provider
// registry for voxgated.
package config

// Config is the root configuration structure for voxgated. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Agents    []AgentConfig   `yaml:"agents"`
	Store     StoreConfig     `yaml:"store"`
}

// ServerConfig holds network and logging settings for voxgated.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel selects slog's verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the four recognized levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM   ProviderEntry `yaml:"llm"`
	STT   ProviderEntry `yaml:"stt"`
	TTS   ProviderEntry `yaml:"tts"`
	Audio ProviderEntry `yaml:"audio"`

	// LLMFallback is tried once, in full, when LLM errors before its first
	// chunk (spec §4.3, §6.2). Empty Name disables fallback entirely.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`

	// TTSFallback is the degraded synthesis path used when a unit's
	// error_strategy is "fallback" (spec §4.6, §6.5). Empty Name means a
	// "fallback" error_strategy behaves like "skip".
	TTSFallback ProviderEntry `yaml:"tts_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "wire").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "llama3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ChunkingStrategy names one of the response pipeline's text-splitting modes
// (spec §6.5).
type ChunkingStrategy string

const (
	ChunkSentence  ChunkingStrategy = "sentence"
	ChunkParagraph ChunkingStrategy = "paragraph"
	ChunkWord      ChunkingStrategy = "word"
	ChunkFixed     ChunkingStrategy = "fixed"
)

// ErrorStrategy names one of the response pipeline's synthesis-failure
// policies (spec §6.5).
type ErrorStrategy string

const (
	ErrorStrategySkip     ErrorStrategy = "skip"
	ErrorStrategyRetry    ErrorStrategy = "retry"
	ErrorStrategyFallback ErrorStrategy = "fallback"
)

// InterruptionStrategy names one of the playback-interruption policies
// (spec §6.5).
type InterruptionStrategy string

const (
	InterruptionImmediate InterruptionStrategy = "immediate"
	InterruptionGraceful  InterruptionStrategy = "graceful"
	InterruptionDrain     InterruptionStrategy = "drain"
)

// RuntimeConfig holds the tunable knobs of a live session's utterance
// detection and response pipeline (spec §6.5). [Watcher] can reload this
// block and report which fields changed, separately from ProvidersConfig
// and Agents, but voxgated does not start a Watcher: the values are read
// once at startup, and a change takes effect on the next restart.
type RuntimeConfig struct {
	// SilenceThresholdMS is the quiet duration, in milliseconds, after which
	// a listening utterance auto-finalizes. Default 600.
	SilenceThresholdMS int `yaml:"silence_threshold_ms"`

	// MaxUtteranceMS bounds a single utterance regardless of continued
	// audio. Default 45000.
	MaxUtteranceMS int `yaml:"max_utterance_ms"`

	// StreamingChunkingStrategy selects how assistant text is split into TTS
	// synthesis units. One of sentence, paragraph, word, fixed. Default
	// sentence.
	StreamingChunkingStrategy ChunkingStrategy `yaml:"streaming_chunking_strategy"`

	// MinChunkLength is the minimum character length of a synthesis unit
	// before it is merged with the next one. Range 5-200. Default 10.
	MinChunkLength int `yaml:"min_chunk_length"`

	// MaxConcurrentTTS bounds how many synthesis units may be in flight at
	// once. Range 1-8. Default 3.
	MaxConcurrentTTS int `yaml:"max_concurrent_tts"`

	// ErrorStrategy selects what happens when a synthesis unit fails. One of
	// skip, retry, fallback. Default retry.
	ErrorStrategy ErrorStrategy `yaml:"error_strategy"`

	// InterruptionStrategy selects how in-flight playback is affected when
	// the user starts speaking again before a turn finishes. One of
	// immediate, graceful, drain. Default graceful.
	InterruptionStrategy InterruptionStrategy `yaml:"interruption_strategy"`

	// Language is the default BCP-47 language tag used when an agent does
	// not override it. Default "en".
	Language string `yaml:"language"`

	// ContextCacheTTLMS is how long a session's conversation context is
	// cached in front of the durable message log, in milliseconds. Default
	// 900000 (15 minutes).
	ContextCacheTTLMS int `yaml:"context_cache_ttl_ms"`
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.SilenceThresholdMS <= 0 {
		c.SilenceThresholdMS = 600
	}
	if c.MaxUtteranceMS <= 0 {
		c.MaxUtteranceMS = 45000
	}
	if c.StreamingChunkingStrategy == "" {
		c.StreamingChunkingStrategy = ChunkSentence
	}
	if c.MinChunkLength <= 0 {
		c.MinChunkLength = 10
	}
	if c.MaxConcurrentTTS <= 0 {
		c.MaxConcurrentTTS = 3
	}
	if c.ErrorStrategy == "" {
		c.ErrorStrategy = ErrorStrategyRetry
	}
	if c.InterruptionStrategy == "" {
		c.InterruptionStrategy = InterruptionGraceful
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.ContextCacheTTLMS <= 0 {
		c.ContextCacheTTLMS = 900000
	}
	return c
}

// AgentConfig describes one assistant persona (spec §3) and its optional
// per-agent overrides of the global provider and voice defaults.
type AgentConfig struct {
	// ID uniquely identifies this agent across sessions and store records.
	ID string `yaml:"id"`

	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	// SystemPrompt is injected as the LLM's system message for this agent.
	SystemPrompt string `yaml:"system_prompt"`

	// Provider overrides Providers.LLM.Name for this agent's generation
	// requests. Empty means use the global LLM provider.
	Provider string `yaml:"provider"`

	// Model overrides Providers.LLM.Model for this agent. Empty means use
	// the global model.
	Model string `yaml:"model"`

	// Temperature is the LLM sampling temperature for this agent.
	Temperature float64 `yaml:"temperature"`

	// TTSVoice selects the synthesis voice identifier for this agent.
	TTSVoice string `yaml:"tts_voice"`

	// TTSExaggeration controls the voice's emotional intensity, 0.25-2.0.
	TTSExaggeration float64 `yaml:"tts_exaggeration"`

	// TTSCFGWeight controls the voice's pacing weight, 0.0-1.0.
	TTSCFGWeight float64 `yaml:"tts_cfg_weight"`

	// TTSTemperature controls the voice's synthesis temperature, 0.05-5.0.
	TTSTemperature float64 `yaml:"tts_temperature"`

	// Language overrides RuntimeConfig.Language for this agent.
	Language string `yaml:"language"`

	// ErrorStrategy overrides RuntimeConfig.ErrorStrategy for this agent's
	// response pipeline. Empty means use the global default.
	ErrorStrategy ErrorStrategy `yaml:"error_strategy"`

	// Active controls whether this agent accepts new sessions. Defaults to
	// true when omitted; set explicitly to false to retire an agent without
	// deleting its configuration.
	Active *bool `yaml:"active"`
}

// IsActive reports whether this agent accepts new sessions. Absent from
// YAML, an agent defaults to active.
func (a AgentConfig) IsActive() bool {
	return a.Active == nil || *a.Active
}

// StoreConfig holds settings for the durable conversation store.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the session and
	// message store. Empty selects the in-memory store, intended for
	// development and tests only.
	PostgresDSN string `yaml:"postgres_dsn"`
}
