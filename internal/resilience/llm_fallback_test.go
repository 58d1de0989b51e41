package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
)

func TestLLMFallback_GenerateStream_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "hi", FinishReason: "stop"}},
	}
	secondary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "unused", FinishReason: "stop"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.SetSecondary("secondary", secondary)

	ch, err := fb.GenerateStream(context.Background(), llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("got %+v, want primary's chunk", got)
	}
	if len(secondary.GenerateCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.GenerateCalls))
	}
}

func TestLLMFallback_GenerateStream_FailsOverBeforeFirstChunk(t *testing.T) {
	primary := &llmmock.Provider{GenerateErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "from secondary", FinishReason: "stop"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	var fallbackCount int
	fb.OnFallback = func() { fallbackCount++ }
	fb.SetSecondary("secondary", secondary)

	ch, err := fb.GenerateStream(context.Background(), llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 1 || got[0].Text != "from secondary" {
		t.Fatalf("got %+v, want secondary's chunk", got)
	}
	if fallbackCount != 1 {
		t.Fatalf("fallbackCount = %d, want 1", fallbackCount)
	}
}

func TestLLMFallback_GenerateStream_NoFailoverAfterStreamStarted(t *testing.T) {
	primary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "partial"}},
		StreamErr:    errors.New("mid-stream break"),
	}
	secondary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "unused"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.SetSecondary("secondary", secondary)

	ch, err := fb.GenerateStream(context.Background(), llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2 (partial + error)", len(got))
	}
	if got[1].Err == nil {
		t.Fatal("expected second chunk to carry the mid-stream error")
	}
	if len(secondary.GenerateCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0 (no mid-stream failover)", len(secondary.GenerateCalls))
	}
}

func TestLLMFallback_GenerateStream_AllFail(t *testing.T) {
	primary := &llmmock.Provider{GenerateErr: errors.New("primary down")}
	secondary := &llmmock.Provider{GenerateErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.SetSecondary("secondary", secondary)

	_, err := fb.GenerateStream(context.Background(), llm.GenerateRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_SetSecondaryReplacesPrevious(t *testing.T) {
	primary := &llmmock.Provider{GenerateErr: errors.New("primary down")}
	oldSecondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "old"}}}
	newSecondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "new"}}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.SetSecondary("old", oldSecondary)
	fb.SetSecondary("new", newSecondary)

	ch, err := fb.GenerateStream(context.Background(), llm.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 1 || got[0].Text != "new" {
		t.Fatalf("got %+v, want the replacement secondary's chunk", got)
	}
}

func TestLLMFallback_Variant(t *testing.T) {
	primary := &llmmock.Provider{VariantValue: llm.VariantHostedSSE}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if fb.Variant() != llm.VariantHostedSSE {
		t.Fatalf("Variant() = %v, want %v", fb.Variant(), llm.VariantHostedSSE)
	}
}
