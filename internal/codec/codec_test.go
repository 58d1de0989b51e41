package codec

import (
	"testing"

	"layeh.com/gopus"
)

func encodeTestFrame(t *testing.T) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		t.Fatalf("create test encoder: %v", err)
	}
	pcm := make([]int16, frameSize*channels)
	for i := range pcm {
		pcm[i] = int16(i % 100)
	}
	frame, err := enc.Encode(pcm, frameSize, len(pcm)*2)
	if err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	return frame
}

func TestFramedOpusDecodesCompleteFrame(t *testing.T) {
	dec, err := NewFramedOpus()
	if err != nil {
		t.Fatalf("NewFramedOpus: %v", err)
	}
	frame := encodeTestFrame(t)

	res, err := dec.Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.PCM) == 0 {
		t.Fatal("expected non-empty PCM output")
	}
	if res.Incomplete || res.InvalidData {
		t.Fatalf("unexpected flags: %+v", res)
	}
}

func TestFramedOpusInvalidDataIsReported(t *testing.T) {
	dec, err := NewFramedOpus()
	if err != nil {
		t.Fatalf("NewFramedOpus: %v", err)
	}
	res, err := dec.Decode([]byte{0xff, 0x00, 0x01, 0x02})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.InvalidData {
		t.Fatal("expected InvalidData for garbage input")
	}
	if len(res.PCM) != 0 {
		t.Fatal("expected no PCM for invalid data")
	}
}

func TestFramedOpusEmptyChunkIsNoop(t *testing.T) {
	dec, err := NewFramedOpus()
	if err != nil {
		t.Fatalf("NewFramedOpus: %v", err)
	}
	res, err := dec.Decode(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PCM != nil || res.Incomplete || res.InvalidData {
		t.Fatalf("expected zero Result for empty chunk, got %+v", res)
	}
}

func TestContainerOpusFirstChunkIsHeaderOnly(t *testing.T) {
	dec, err := NewContainerOpus()
	if err != nil {
		t.Fatalf("NewContainerOpus: %v", err)
	}
	header := []byte("fake-webm-header")
	res, err := dec.Decode(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Incomplete {
		t.Fatal("expected first chunk to be treated as header-only / incomplete")
	}
	if len(res.PCM) != 0 {
		t.Fatal("expected no PCM from the header chunk")
	}
}

func TestContainerOpusHeaderPreservedAcrossUtterances(t *testing.T) {
	dec, err := NewContainerOpus()
	if err != nil {
		t.Fatalf("NewContainerOpus: %v", err)
	}
	dec.Decode([]byte("header-bytes"))
	if !dec.headerSet {
		t.Fatal("expected headerSet after first chunk")
	}

	dec.Reset()
	if !dec.headerSet {
		t.Fatal("Reset must preserve the saved container header")
	}
	if dec.buf != nil {
		t.Fatal("Reset must clear the incomplete-chunk carry buffer")
	}
}

func TestContainerOpusInvalidDataKeepsHeader(t *testing.T) {
	dec, err := NewContainerOpus()
	if err != nil {
		t.Fatalf("NewContainerOpus: %v", err)
	}
	dec.Decode([]byte("header-bytes"))

	res, err := dec.Decode(make([]byte, maxIncompleteBuffer+1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.InvalidData {
		t.Fatal("expected InvalidData once the buffer exceeds the incomplete-retry bound")
	}
	if !dec.headerSet {
		t.Fatal("saved header must survive an InvalidData reset")
	}
	if dec.buf != nil {
		t.Fatal("expected carry buffer cleared after InvalidData")
	}
}
