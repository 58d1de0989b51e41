package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

func TestConvertMessageRoles(t *testing.T) {
	cases := []struct {
		in       types.ChatMessage
		wantRole anyllmlib.Role
	}{
		{types.ChatMessage{Role: types.RoleSystem, Text: "You are helpful."}, anyllmlib.RoleSystem},
		{types.ChatMessage{Role: types.RoleUser, Text: "Hello!"}, anyllmlib.RoleUser},
		{types.ChatMessage{Role: types.RoleAssistant, Text: "Hi there!"}, anyllmlib.RoleAssistant},
	}
	for _, c := range cases {
		got := convertMessage(c.in)
		if got.Role != c.wantRole {
			t.Errorf("convertMessage(%+v).Role = %v, want %v", c.in, got.Role, c.wantRole)
		}
		if got.Content != c.in.Text {
			t.Errorf("convertMessage(%+v).Content = %q, want %q", c.in, got.Content, c.in.Text)
		}
	}
}

func TestNewEmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNewEmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewOpenAIWithAPIKey(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", p.model)
	}
	if p.Variant() != llm.VariantAnyLLM {
		t.Errorf("expected VariantAnyLLM, got %v", p.Variant())
	}
}

func TestNewOllamaNoAPIKey(t *testing.T) {
	p, err := NewOllama("llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"NewOpenAI", func() (*Provider, error) { return NewOpenAI("gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"NewAnthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3") }},
		{"NewLlamaCpp", func() (*Provider, error) { return NewLlamaCpp("llama3") }},
		{"NewLlamaFile", func() (*Provider, error) { return NewLlamaFile("llama3") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if p == nil {
				t.Fatalf("%s: expected non-nil provider", tt.name)
			}
		})
	}
}
