// Package codec adapts inbound audio blobs to decoded PCM frames for the STT
// client. Both adapters implement Decoder, a single polymorphic
// decode(bytes) -> pcm_frames interface; callers never branch on ingress
// kind once a Decoder has been constructed.
//
// Decode output is never PCM for bytes that could not be decoded: a caller
// must not infer audio-present from bytes-in. Use the Incomplete/InvalidData
// result values, never a panic, to report a decode that could not proceed.
package codec

import (
	"fmt"

	"layeh.com/gopus"
)

// Opus frame parameters shared by both adapters; 48kHz stereo 20ms framing,
// matching the chat-platform ingress's native format.
const (
	sampleRate  = 48000
	channels    = 2
	frameSizeMs = 20
	frameSize   = sampleRate * frameSizeMs / 1000 // 960 samples/channel
)

// Result is the outcome of one Decode call.
type Result struct {
	// PCM is little-endian int16 interleaved samples. Empty when no audio
	// could be produced from this call (Incomplete or InvalidData).
	PCM []byte

	// Incomplete reports that the input so far is a partial chunk; the
	// caller should hold onto it and retry after concatenating the next
	// chunk, rather than treat it as an error.
	Incomplete bool

	// InvalidData reports that the accumulated input could not be decoded
	// and has been discarded; any preserved container header is retained.
	InvalidData bool
}

// Decoder turns inbound blobs into decoded PCM. Implementations are not
// required to be safe for concurrent use; each session owns one Decoder
// per direction.
type Decoder interface {
	Decode(chunk []byte) (Result, error)

	// Reset prepares the decoder for a new utterance. Framed-Opus is
	// stateless across utterances; Container-Opus re-prepends its saved
	// container header on the next chunk.
	Reset()
}

// FramedOpus decodes chat-platform ingress, where every inbound blob is
// already a complete, independently decodable Opus frame.
type FramedOpus struct {
	dec *gopus.Decoder
}

// NewFramedOpus constructs a FramedOpus decoder.
func NewFramedOpus() (*FramedOpus, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create framed-opus decoder: %w", err)
	}
	return &FramedOpus{dec: dec}, nil
}

// Decode decodes one complete Opus frame. Framed-Opus never buffers across
// calls: each blob stands alone.
func (f *FramedOpus) Decode(chunk []byte) (Result, error) {
	if len(chunk) == 0 {
		return Result{}, nil
	}
	pcm, err := f.dec.Decode(chunk, frameSize, false)
	if err != nil {
		return Result{InvalidData: true}, nil
	}
	return Result{PCM: int16sToBytes(pcm)}, nil
}

// Reset is a no-op for FramedOpus: there is no cross-utterance state to
// carry. Present to satisfy Decoder.
func (f *FramedOpus) Reset() {}

// ContainerOpus decodes browser ingress, where inbound blobs are chunks of a
// streaming Opus container (e.g. WebM). The first chunk of a session carries
// the container header; later chunks are header-less Cluster blocks. Without
// preserving that header across utterances, turn 2's audio arrives
// header-less and the decoder rejects every chunk.
type ContainerOpus struct {
	dec *gopus.Decoder

	header    []byte // preserved container header bytes, once observed
	buf       []byte // incomplete-chunk carry buffer
	headerSet bool
}

// NewContainerOpus constructs a ContainerOpus decoder.
func NewContainerOpus() (*ContainerOpus, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create container-opus decoder: %w", err)
	}
	return &ContainerOpus{dec: dec}, nil
}

// Decode accepts one inbound chunk. On the first call of a session (no
// header preserved yet), the chunk is assumed to carry the container header:
// it is saved verbatim and Decode returns Incomplete without decoding it. On
// later calls within an utterance, the chunk is appended to whatever partial
// data remains buffered.
//
// decodeAccumulated stands in for the container-aware Opus frame extraction
// a full container (e.g. WebM/Matroska) demuxer would perform; VoxGate
// prepends the saved header to the accumulated buffer and hands the whole
// span to the shared gopus.Decoder in a single Decode call.
func (c *ContainerOpus) Decode(chunk []byte) (Result, error) {
	if len(chunk) == 0 {
		return Result{}, nil
	}

	if !c.headerSet {
		c.header = append([]byte(nil), chunk...)
		c.headerSet = true
		// The first chunk is the header; no audio frame to decode yet.
		return Result{Incomplete: true}, nil
	}

	c.buf = append(c.buf, chunk...)

	pcm, consumed, err := c.decodeAccumulated(c.buf)
	if err != nil {
		// Accumulated data could not be decoded at all: drop it, but keep
		// the saved header so the next utterance still has it.
		c.buf = nil
		return Result{InvalidData: true}, nil
	}
	if consumed == 0 {
		// Nothing decodable yet; keep buffering.
		return Result{Incomplete: true}, nil
	}

	c.buf = c.buf[consumed:]
	if len(pcm) == 0 {
		return Result{Incomplete: true}, nil
	}
	return Result{PCM: pcm}, nil
}

// decodeAccumulated prepends the preserved header to buf and decodes the
// result with one gopus Decode call. It returns the PCM and how many bytes of
// buf were used: all of buf on success, none while the data is not yet
// decodable (the header itself is never consumed).
func (c *ContainerOpus) decodeAccumulated(buf []byte) ([]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}

	framed := append(append([]byte(nil), c.header...), buf...)
	pcm, err := c.dec.Decode(framed, frameSize, false)
	if err != nil {
		// Treat as not-yet-complete rather than fatal unless the buffer is
		// already large enough that it is unlikely to ever complete.
		if len(buf) > maxIncompleteBuffer {
			return nil, 0, err
		}
		return nil, 0, nil
	}
	return int16sToBytes(pcm), len(buf), nil
}

// maxIncompleteBuffer bounds how long an un-decodable chunk may be retried
// as merely incomplete before it is treated as invalid data and discarded.
const maxIncompleteBuffer = 64 * 1024

// Reset prepares the decoder for a new utterance. The preserved container
// header is retained; only the incomplete-chunk carry buffer is cleared.
func (c *ContainerOpus) Reset() {
	c.buf = nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
