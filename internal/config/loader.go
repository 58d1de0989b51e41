package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anyllm", "webhook"},
	"stt":   {"wire", "whisper"},
	"tts":   {"elevenlabs", "coqui"},
	"audio": {"discord"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies [RuntimeConfig]
// defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Runtime = cfg.Runtime.withDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.Agents) > 0 {
		slog.Warn("no LLM provider configured; agents will not be able to generate responses")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; using the in-memory store, which does not survive a restart")
	}

	errs = append(errs, validateRuntime(cfg.Runtime)...)

	agentIDsSeen := make(map[string]int, len(cfg.Agents))
	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := agentIDsSeen[a.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of agents[%d]", prefix, a.ID, prev))
		} else {
			agentIDsSeen[a.ID] = i
		}
		if a.ErrorStrategy != "" && !isValidErrorStrategy(a.ErrorStrategy) {
			errs = append(errs, fmt.Errorf("%s.error_strategy %q is invalid; valid values: skip, retry, fallback", prefix, a.ErrorStrategy))
		}
		if a.Provider != "" && !slices.Contains(ValidProviderNames["llm"], a.Provider) {
			slog.Warn("agent provider override is not a known llm provider name", "agent", a.ID, "provider", a.Provider)
		}
	}

	return errors.Join(errs...)
}

func validateRuntime(r RuntimeConfig) []error {
	var errs []error
	if r.MinChunkLength < 5 || r.MinChunkLength > 200 {
		errs = append(errs, fmt.Errorf("runtime.min_chunk_length %d is out of range [5, 200]", r.MinChunkLength))
	}
	if r.MaxConcurrentTTS < 1 || r.MaxConcurrentTTS > 8 {
		errs = append(errs, fmt.Errorf("runtime.max_concurrent_tts %d is out of range [1, 8]", r.MaxConcurrentTTS))
	}
	switch r.StreamingChunkingStrategy {
	case ChunkSentence, ChunkParagraph, ChunkWord, ChunkFixed:
	default:
		errs = append(errs, fmt.Errorf("runtime.streaming_chunking_strategy %q is invalid; valid values: sentence, paragraph, word, fixed", r.StreamingChunkingStrategy))
	}
	if !isValidErrorStrategy(r.ErrorStrategy) {
		errs = append(errs, fmt.Errorf("runtime.error_strategy %q is invalid; valid values: skip, retry, fallback", r.ErrorStrategy))
	}
	switch r.InterruptionStrategy {
	case InterruptionImmediate, InterruptionGraceful, InterruptionDrain:
	default:
		errs = append(errs, fmt.Errorf("runtime.interruption_strategy %q is invalid; valid values: immediate, graceful, drain", r.InterruptionStrategy))
	}
	return errs
}

func isValidErrorStrategy(e ErrorStrategy) bool {
	switch e {
	case ErrorStrategySkip, ErrorStrategyRetry, ErrorStrategyFallback:
		return true
	default:
		return false
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
