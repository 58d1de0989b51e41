// Package coqui implements the gateway's TTS engine contract against an HTTP
// server that accepts multipart form POSTs and streams back an audio body —
// the shape exposed by Chatterbox-class and Coqui-compatible TTS servers.
//
// Because the server streams its response progressively rather than over a
// socket, SynthesizeStream accumulates incoming text fragments into complete
// sentences and dispatches one HTTP request per sentence, with a small
// lookahead buffer so network and inference latency overlap across
// sentences while playback order is preserved.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithResponseFormat("wav"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	audio, err := p.SynthesizeStream(ctx, textCh, voiceProfile)
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultResponseFormat = "wav"
	defaultTimeout        = 30 * time.Second
	synthesizeEndpoint    = "/v1/audio/speech"
	voicesEndpoint        = "/v1/voices"

	// sentenceLookaheadBuf bounds how many HTTP synthesis requests may be
	// in-flight simultaneously for one SynthesizeStream call.
	sentenceLookaheadBuf = 4

	audioChanBuf = 256
	pcmChunkSize = 4096
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithResponseFormat sets the response_format form field (wav|mp3|flac).
// Defaults to "wav".
func WithResponseFormat(format string) Option {
	return func(p *Provider) { p.responseFormat = format }
}

// WithTimeout sets the per-sentence HTTP request timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithStreamingStrategy sets the optional streaming_strategy form field
// (sentence|paragraph|word|fixed).
func WithStreamingStrategy(strategy string) Option {
	return func(p *Provider) { p.streamingStrategy = strategy }
}

// WithStreamingQuality sets the optional streaming_quality form field
// (fast|balanced|high).
func WithStreamingQuality(quality string) Option {
	return func(p *Provider) { p.streamingQuality = quality }
}

// WithOutputSampleRate configures the provider to resample synthesised PCM
// to the given rate. 0 (default) performs no resampling.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider against a Chatterbox/Coqui-compatible
// form-POST TTS server. Safe for concurrent use.
type Provider struct {
	serverURL         string
	responseFormat    string
	streamingStrategy string
	streamingQuality  string
	outputRate        int
	httpClient        *http.Client
}

// New creates a Provider targeting the TTS server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:      strings.TrimRight(serverURL, "/"),
		responseFormat: defaultResponseFormat,
		httpClient:     &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type audioResult struct {
	pcm []byte
	err error
}

// SynthesizeStream consumes text fragments, accumulates them into complete
// sentences (split on '.', '!', '?' followed by whitespace or EOF), and
// issues one multipart form POST per sentence. Up to sentenceLookaheadBuf
// requests may be in-flight concurrently; results are emitted on the
// returned channel strictly in sentence order.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("coqui: voice.ID must not be empty")
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		sentences := make(chan string, sentenceLookaheadBuf)
		resultQueue := make(chan chan audioResult, sentenceLookaheadBuf)

		go func() {
			defer close(sentences)
			var buf strings.Builder
			for {
				select {
				case fragment, ok := <-text:
					if !ok {
						if remaining := strings.TrimSpace(buf.String()); remaining != "" {
							select {
							case sentences <- remaining:
							case <-ctx.Done():
							}
						}
						return
					}
					buf.WriteString(fragment)
					for {
						s := buf.String()
						idx := findSentenceBoundary(s)
						if idx < 0 {
							break
						}
						sentence := strings.TrimSpace(s[:idx+1])
						buf.Reset()
						buf.WriteString(s[idx+1:])
						if sentence == "" {
							continue
						}
						select {
						case sentences <- sentence:
						case <-ctx.Done():
							return
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			defer close(resultQueue)
			for {
				select {
				case sentence, ok := <-sentences:
					if !ok {
						return
					}
					ch := make(chan audioResult, 1)
					select {
					case resultQueue <- ch:
					case <-ctx.Done():
						return
					}
					go func(s string, out chan<- audioResult) {
						pcm, err := p.synthesize(ctx, s, voice)
						out <- audioResult{pcm: pcm, err: err}
					}(sentence, ch)
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				select {
				case result := <-ch:
					if result.err != nil {
						return
					}
					pcm := result.pcm
					for len(pcm) > 0 {
						end := min(pcmChunkSize, len(pcm))
						select {
						case audioCh <- pcm[:end]:
						case <-ctx.Done():
							return
						}
						pcm = pcm[end:]
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// synthesize issues one multipart form POST with exactly the fields the
// engine contract specifies and returns the raw PCM from the streamed
// response body, WAV header stripped.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"input":           sentence,
		"voice":           voice.ID,
		"response_format": p.responseFormat,
		"speed":           strconv.FormatFloat(valueOr(voice.PaceWeight, 0.5), 'f', -1, 64),
		"temperature":     strconv.FormatFloat(valueOr(voice.Temperature, 0.8), 'f', -1, 64),
		"exaggeration":    strconv.FormatFloat(valueOr(voice.EmotionalIntensity, 0.5), 'f', -1, 64),
		"cfg_weight":      strconv.FormatFloat(cfgWeightFor(voice), 'f', -1, 64),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("coqui: write field %s: %w", name, err)
		}
	}
	if p.streamingStrategy != "" {
		_ = mw.WriteField("streaming_strategy", p.streamingStrategy)
	}
	if p.streamingQuality != "" {
		_ = mw.WriteField("streaming_quality", p.streamingQuality)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+synthesizeEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", synthesizeEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", synthesizeEndpoint, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio response: %w", err)
	}

	if p.responseFormat != "" && p.responseFormat != "wav" {
		// mp3/flac bodies pass through undecoded; downstream playback must
		// match the configured response_format.
		return audio, nil
	}

	info, err := parseWAV(audio)
	if err != nil {
		return nil, err
	}
	pcm := audio[info.DataOffset:]
	if p.outputRate > 0 && info.SampleRate != p.outputRate && info.Channels == 1 {
		pcm = resampleMono16(pcm, info.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// ListVoices retrieves the voice catalogue from GET /v1/voices.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", voicesEndpoint, resp.StatusCode)
	}

	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("coqui: decode voices response: %w", err)
	}

	profiles := make([]types.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
		})
	}
	return profiles, nil
}

// CloneVoice is not supported by the form-POST TTS engine contract: voice
// identity is selected by name, not trained from samples.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	return nil, errors.New("coqui: voice cloning is not supported by this engine")
}

// Health probes the server's voice catalogue endpoint as a liveness check.
func (p *Provider) Health(ctx context.Context) tts.Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+voicesEndpoint, nil)
	if err != nil {
		return tts.HealthDown
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.HealthDown
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tts.HealthDegraded
	}
	return tts.HealthOK
}

func valueOr(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

// cfgWeightFor derives the cfg_weight form field. The engine contract has no
// direct VoiceProfile analogue for it, so it is fixed at a neutral default;
// per-agent overrides (tts_cfg_weight) are applied by the caller before the
// profile reaches SynthesizeStream.
func cfgWeightFor(voice types.VoiceProfile) float64 {
	if v, ok := voice.Metadata["cfg_weight"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0.5
}

func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

type wavInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// parseWAV scans the RIFF/WAVE container and locates the data chunk. More
// robust than a hardcoded 44-byte offset because the fmt chunk size varies.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: audio response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: audio response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: audio response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("coqui: audio response missing data chunk")
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
