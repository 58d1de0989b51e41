package config

// ConfigDiff describes what changed between two configs. Only fields that
// [Watcher] can safely hot-reload into a live process are tracked — the
// static provider wiring in ProvidersConfig is deliberately excluded; a
// change there requires a restart and is reported only as a log warning by
// the caller, not applied.
type ConfigDiff struct {
	RuntimeChanged bool
	NewRuntime     RuntimeConfig

	AgentsChanged bool
	AgentChanges  []AgentDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// AgentDiff describes what changed for a single agent between two configs.
type AgentDiff struct {
	ID              string
	PromptChanged   bool
	VoiceChanged    bool
	TemperatureChanged bool
	Added           bool
	Removed         bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restarting provider connections.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Runtime != new.Runtime {
		d.RuntimeChanged = true
		d.NewRuntime = new.Runtime
	}

	oldAgents := make(map[string]*AgentConfig, len(old.Agents))
	for i := range old.Agents {
		oldAgents[old.Agents[i].ID] = &old.Agents[i]
	}
	newAgents := make(map[string]*AgentConfig, len(new.Agents))
	for i := range new.Agents {
		newAgents[new.Agents[i].ID] = &new.Agents[i]
	}

	for id, oldAgent := range oldAgents {
		newAgent, exists := newAgents[id]
		if !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{ID: id, Removed: true})
			d.AgentsChanged = true
			continue
		}
		ad := diffAgent(id, oldAgent, newAgent)
		if ad.PromptChanged || ad.VoiceChanged || ad.TemperatureChanged {
			d.AgentChanges = append(d.AgentChanges, ad)
			d.AgentsChanged = true
		}
	}

	for id := range newAgents {
		if _, exists := oldAgents[id]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{ID: id, Added: true})
			d.AgentsChanged = true
		}
	}

	return d
}

// diffAgent compares two agent configs with the same ID.
func diffAgent(id string, old, new *AgentConfig) AgentDiff {
	ad := AgentDiff{ID: id}
	if old.SystemPrompt != new.SystemPrompt {
		ad.PromptChanged = true
	}
	if old.TTSVoice != new.TTSVoice || old.TTSExaggeration != new.TTSExaggeration ||
		old.TTSCFGWeight != new.TTSCFGWeight || old.TTSTemperature != new.TTSTemperature {
		ad.VoiceChanged = true
	}
	if old.Temperature != new.Temperature {
		ad.TemperatureChanged = true
	}
	return ad
}
