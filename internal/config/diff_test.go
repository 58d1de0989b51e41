package config_test

import (
	"testing"

	"github.com/voxgate/voxgate/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Agents: []config.AgentConfig{
			{ID: "alice", SystemPrompt: "kind"},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.AgentsChanged {
		t.Error("expected AgentsChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.RuntimeChanged {
		t.Error("expected RuntimeChanged=false for identical configs")
	}
	if len(d.AgentChanges) != 0 {
		t.Errorf("expected 0 agent changes, got %d", len(d.AgentChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_RuntimeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Runtime: config.RuntimeConfig{MaxConcurrentTTS: 3}}
	new := &config.Config{Runtime: config.RuntimeConfig{MaxConcurrentTTS: 6}}

	d := config.Diff(old, new)
	if !d.RuntimeChanged {
		t.Error("expected RuntimeChanged=true")
	}
	if d.NewRuntime.MaxConcurrentTTS != 6 {
		t.Errorf("expected NewRuntime.MaxConcurrentTTS=6, got %d", d.NewRuntime.MaxConcurrentTTS)
	}
}

func TestDiff_AgentPromptChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Agents: []config.AgentConfig{{ID: "bob", SystemPrompt: "grumpy"}},
	}
	new := &config.Config{
		Agents: []config.AgentConfig{{ID: "bob", SystemPrompt: "cheerful"}},
	}

	d := config.Diff(old, new)
	if !d.AgentsChanged {
		t.Error("expected AgentsChanged=true")
	}
	if len(d.AgentChanges) != 1 {
		t.Fatalf("expected 1 agent change, got %d", len(d.AgentChanges))
	}
	if !d.AgentChanges[0].PromptChanged {
		t.Error("expected PromptChanged=true")
	}
	if d.AgentChanges[0].VoiceChanged {
		t.Error("expected VoiceChanged=false")
	}
}

func TestDiff_AgentVoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Agents: []config.AgentConfig{{ID: "carol", TTSVoice: "v1"}},
	}
	new := &config.Config{
		Agents: []config.AgentConfig{{ID: "carol", TTSVoice: "v2"}},
	}

	d := config.Diff(old, new)
	if !d.AgentsChanged {
		t.Error("expected AgentsChanged=true")
	}
	found := false
	for _, ac := range d.AgentChanges {
		if ac.ID == "carol" && ac.VoiceChanged {
			found = true
		}
	}
	if !found {
		t.Error("expected carol's VoiceChanged=true")
	}
}

func TestDiff_AgentTemperatureChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Agents: []config.AgentConfig{{ID: "dan", Temperature: 0.2}},
	}
	new := &config.Config{
		Agents: []config.AgentConfig{{ID: "dan", Temperature: 0.9}},
	}

	d := config.Diff(old, new)
	if !d.AgentsChanged {
		t.Error("expected AgentsChanged=true")
	}
	found := false
	for _, ac := range d.AgentChanges {
		if ac.ID == "dan" && ac.TemperatureChanged {
			found = true
		}
	}
	if !found {
		t.Error("expected dan's TemperatureChanged=true")
	}
}

func TestDiff_AgentAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Agents: []config.AgentConfig{{ID: "eve"}},
	}
	new := &config.Config{
		Agents: []config.AgentConfig{{ID: "eve"}, {ID: "frank"}},
	}

	d := config.Diff(old, new)
	if !d.AgentsChanged {
		t.Error("expected AgentsChanged=true")
	}
	found := false
	for _, ac := range d.AgentChanges {
		if ac.ID == "frank" && ac.Added {
			found = true
		}
	}
	if !found {
		t.Error("expected frank Added=true")
	}
}

func TestDiff_AgentRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Agents: []config.AgentConfig{{ID: "grace"}, {ID: "hank"}},
	}
	new := &config.Config{
		Agents: []config.AgentConfig{{ID: "grace"}},
	}

	d := config.Diff(old, new)
	if !d.AgentsChanged {
		t.Error("expected AgentsChanged=true")
	}
	found := false
	for _, ac := range d.AgentChanges {
		if ac.ID == "hank" && ac.Removed {
			found = true
		}
	}
	if !found {
		t.Error("expected hank Removed=true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Agents: []config.AgentConfig{
			{ID: "a", SystemPrompt: "p1"},
			{ID: "b", Temperature: 0.1},
		},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Agents: []config.AgentConfig{
			{ID: "a", SystemPrompt: "p2"},
			{ID: "c"},
		},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.AgentsChanged {
		t.Error("expected AgentsChanged=true")
	}
	changes := make(map[string]config.AgentDiff)
	for _, ac := range d.AgentChanges {
		changes[ac.ID] = ac
	}
	if !changes["a"].PromptChanged {
		t.Error("expected a PromptChanged=true")
	}
	if !changes["b"].Removed {
		t.Error("expected b Removed=true")
	}
	if !changes["c"].Added {
		t.Error("expected c Added=true")
	}
}
