package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/voxgate/voxgate/pkg/types"
)

func TestVoiceSettingsForClampsStability(t *testing.T) {
	vs := voiceSettingsFor(types.VoiceProfile{EmotionalIntensity: 2.0})
	if vs.Stability != 0 {
		t.Errorf("expected stability 0 for max intensity, got %f", vs.Stability)
	}

	vs = voiceSettingsFor(types.VoiceProfile{EmotionalIntensity: 0, PaceWeight: 0.3})
	if vs.Stability != 1.0 {
		t.Errorf("expected stability 1.0 for zero intensity, got %f", vs.Stability)
	}
	if vs.SimilarityBoost != 0.3 {
		t.Errorf("expected similarity_boost 0.3, got %f", vs.SimilarityBoost)
	}
}

func TestVoiceSettingsForDefaultsSimilarity(t *testing.T) {
	vs := voiceSettingsFor(types.VoiceProfile{})
	if vs.SimilarityBoost != 0.75 {
		t.Errorf("expected default similarity_boost 0.75, got %f", vs.SimilarityBoost)
	}
}

func TestTextMessageOmitsVoiceSettingsWhenNil(t *testing.T) {
	data, err := json.Marshal(textMessage{Text: ""})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

func TestWSEndpointContainsVoiceAndModel(t *testing.T) {
	url := buildURLFor("voice-abc123", "eleven_flash_v2_5")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL should contain voice ID, got: %s", url)
	}
	if !strings.Contains(url, "eleven_flash_v2_5") {
		t.Errorf("URL should contain model ID, got: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
}

func buildURLFor(voiceID, model string) string {
	return wsURLFor(voiceID, model)
}

func TestToProfiles(t *testing.T) {
	vr := voicesResponse{Voices: []elevenLabsVoice{
		{VoiceID: "abc123", Name: "Rachel", Category: "premade", Labels: map[string]string{"gender": "female"}},
		{VoiceID: "x1", Name: "Ghost"},
	}}
	profiles := toProfiles(vr)
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].ID != "abc123" || profiles[0].Provider != "elevenlabs" {
		t.Errorf("unexpected profile: %+v", profiles[0])
	}
	if profiles[0].Metadata["gender"] != "female" || profiles[0].Metadata["category"] != "premade" {
		t.Errorf("expected merged metadata, got %+v", profiles[0].Metadata)
	}
	if _, ok := profiles[1].Metadata["category"]; ok {
		t.Error("expected no category key when category is empty")
	}
}

func TestNewEmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNewDefaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNewWithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.outputFormat != "pcm_24000" {
		t.Errorf("expected outputFormat 'pcm_24000', got %q", p.outputFormat)
	}
}

func TestCloneVoiceRejectsEmptySamples(t *testing.T) {
	p, _ := New("key")
	if _, err := p.CloneVoice(nil, nil); err == nil {
		t.Error("expected error for empty samples")
	}
}
