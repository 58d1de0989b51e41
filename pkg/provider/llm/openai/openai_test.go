package openai

import (
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

func TestConvertMessageRoles(t *testing.T) {
	sys := convertMessage(types.ChatMessage{Role: types.RoleSystem, Text: "You are helpful."})
	if sys.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}

	user := convertMessage(types.ChatMessage{Role: types.RoleUser, Text: "Hello!"})
	if user.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}

	asst := convertMessage(types.ChatMessage{Role: types.RoleAssistant, Text: "Hi there!"})
	if asst.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

func TestNewRejectsEmptyModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNewDefaultsToHostedVariant(t *testing.T) {
	p, err := New("sk-test", "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Variant() != llm.VariantHostedSSE {
		t.Errorf("expected VariantHostedSSE, got %v", p.Variant())
	}
}

func TestNewWithBaseURLInfersLocalVariant(t *testing.T) {
	p, err := New("", "llama3", WithBaseURL("http://localhost:11434/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Variant() != llm.VariantLocalSSE {
		t.Errorf("expected VariantLocalSSE, got %v", p.Variant())
	}
}

func TestNewWithExplicitVariantOverridesInference(t *testing.T) {
	p, err := New("sk-test", "gpt-4o", WithBaseURL("http://localhost:11434/v1"), WithVariant(llm.VariantHostedSSE))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Variant() != llm.VariantHostedSSE {
		t.Errorf("expected explicit VariantHostedSSE override, got %v", p.Variant())
	}
}

func TestNewWithOptions(t *testing.T) {
	_, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}
