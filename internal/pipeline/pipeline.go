package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/types"
)

// ErrorPolicy decides what happens when a unit fails synthesis.
type ErrorPolicy int

const (
	// ErrorSkip omits the failed unit; its neighbours still play. Default.
	ErrorSkip ErrorPolicy = iota
	// ErrorRetry attempts the unit up to RetryAttempts times before skipping.
	ErrorRetry
	// ErrorFallback retries once against Config.Fallback before skipping.
	ErrorFallback
)

// InterruptionPolicy decides how Interrupt affects in-flight and queued
// playback when the user starts speaking again before a turn finishes.
type InterruptionPolicy int

const (
	// Graceful finishes the unit currently playing, then stops. Default.
	Graceful InterruptionPolicy = iota
	// Immediate cancels in-flight synthesis and stops playback now.
	Immediate
	// Drain finishes every unit already queued or in flight, then stops.
	Drain
)

const defaultRetryAttempts = 3

// AudioSink receives synthesized PCM in strict playback order.
type AudioSink interface {
	Write(ctx context.Context, pcm []byte) error
}

// Metrics are optional hooks the pipeline invokes for observability. Any
// left nil are simply not called.
type Metrics struct {
	OnUnitSkipped func()
	OnUnitRetried func()
	OnInterrupted func(policy InterruptionPolicy)
}

// Config configures a Pipeline's splitting, concurrency, and failure
// handling behavior.
type Config struct {
	Strategy           ChunkStrategy
	MaxConcurrentTTS   int
	ErrorPolicy        ErrorPolicy
	RetryAttempts      int
	InterruptionPolicy InterruptionPolicy
	// Fallback is used when ErrorPolicy is ErrorFallback after the primary
	// voice exhausts its attempts. May be nil, in which case ErrorFallback
	// behaves like ErrorSkip.
	Fallback tts.Provider
}

func (c Config) withDefaults() Config {
	if c.Strategy == nil {
		c.Strategy = SentenceStrategy{MinLength: 10}
	}
	if c.MaxConcurrentTTS <= 0 {
		c.MaxConcurrentTTS = 3
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	return c
}

// Pipeline implements the response streaming pipeline (spec §4.6): it
// consumes an LLM chunk sequence, splits it into synthesizable units,
// dispatches units to a bounded TTS worker pool, and plays the resulting
// audio back in strict submission order.
type Pipeline struct {
	cfg     Config
	tts     tts.Provider
	voice   types.VoiceProfile
	sink    AudioSink
	metrics Metrics

	interruptOnce sync.Once
	interruptCh   chan struct{}
}

// New constructs a Pipeline that synthesizes with ttsProvider using voice
// and writes the result to sink.
func New(ttsProvider tts.Provider, voice types.VoiceProfile, sink AudioSink, cfg Config, metrics Metrics) *Pipeline {
	return &Pipeline{
		cfg:         cfg.withDefaults(),
		tts:         ttsProvider,
		voice:       voice,
		sink:        sink,
		metrics:     metrics,
		interruptCh: make(chan struct{}),
	}
}

// Interrupt signals the pipeline that the user has started speaking again.
// Its effect is governed by Config.InterruptionPolicy. Safe to call multiple
// times and from any goroutine; only the first call has effect.
func (p *Pipeline) Interrupt() {
	p.interruptOnce.Do(func() {
		if p.metrics.OnInterrupted != nil {
			p.metrics.OnInterrupted(p.cfg.InterruptionPolicy)
		}
		close(p.interruptCh)
	})
}

type unitResult struct {
	pcm     [][]byte
	skipped bool
}

// Run drains chunks, synthesizes and plays every resulting unit, and
// returns when the turn completes, is interrupted to exhaustion, or ctx is
// cancelled. It returns the first LLM-side error observed on the chunk
// sequence, if any; synthesis failures are handled per Config.ErrorPolicy
// and never aborts the run.
func (p *Pipeline) Run(ctx context.Context, chunks <-chan llm.Chunk) error {
	runCtx, cancelImmediate := context.WithCancel(ctx)
	defer cancelImmediate()

	units := make(chan string, p.cfg.MaxConcurrentTTS)
	resultQueue := make(chan chan unitResult, p.cfg.MaxConcurrentTTS)

	var splitErr error

	go p.splitLoop(runCtx, cancelImmediate, chunks, units, &splitErr)
	go p.dispatchLoop(runCtx, units, resultQueue)

	return p.playbackLoop(runCtx, resultQueue, &splitErr)
}

// splitLoop accumulates LLM chunks into synthesizable units and feeds them
// to the dispatcher in extraction order.
func (p *Pipeline) splitLoop(ctx context.Context, cancelImmediate context.CancelFunc, chunks <-chan llm.Chunk, units chan<- string, splitErr *error) {
	defer close(units)

	splitter := NewSplitter(p.cfg.Strategy)
	interrupt := p.interruptCh
	admitting := true

	for {
		select {
		case <-interrupt:
			interrupt = nil // only react to the first observation
			if p.cfg.InterruptionPolicy == Immediate {
				cancelImmediate()
				return
			}
			// Graceful and Drain: stop admitting new units, but keep
			// draining chunks below so the LLM provider's goroutine never
			// blocks on a send nobody will read.
			admitting = false
		case chunk, ok := <-chunks:
			if !ok {
				if admitting {
					if rest := splitter.Flush(); rest != "" {
						select {
						case units <- rest:
						case <-ctx.Done():
						}
					}
				}
				return
			}
			if !admitting {
				continue // draining only: discard further LLM output
			}
			if chunk.Err != nil {
				*splitErr = chunk.Err
				continue
			}
			for _, unit := range splitter.Feed(chunk.Text) {
				select {
				case units <- unit:
				case <-ctx.Done():
					return
				}
			}
			if chunk.FinishReason != "" {
				if rest := splitter.Flush(); rest != "" {
					select {
					case units <- rest:
					case <-ctx.Done():
					}
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatchLoop reads units and fans them out to up to MaxConcurrentTTS
// concurrent synthesis jobs, publishing one result-future per unit onto
// resultQueue in submission order.
func (p *Pipeline) dispatchLoop(ctx context.Context, units <-chan string, resultQueue chan<- chan unitResult) {
	defer close(resultQueue)

	sem := make(chan struct{}, p.cfg.MaxConcurrentTTS)
	for {
		select {
		case unit, ok := <-units:
			if !ok {
				return
			}
			resCh := make(chan unitResult, 1)
			select {
			case resultQueue <- resCh:
			case <-ctx.Done():
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(text string, out chan<- unitResult) {
				defer func() { <-sem }()
				out <- p.synthesizeUnit(ctx, text)
			}(unit, resCh)
		case <-ctx.Done():
			return
		}
	}
}

// playbackLoop consumes result-futures in submission order and writes each
// unit's audio to the sink, honoring the interruption policy.
func (p *Pipeline) playbackLoop(ctx context.Context, resultQueue <-chan chan unitResult, splitErr *error) error {
	interrupt := p.interruptCh
	stopAfterCurrent := false
	// immediate fires only under the Immediate policy; returning makes Run's
	// deferred cancel tear down in-flight synthesis.
	var immediate <-chan struct{}
	if p.cfg.InterruptionPolicy == Immediate {
		immediate = p.interruptCh
	}

	for {
		select {
		case resCh, ok := <-resultQueue:
			if !ok {
				return *splitErr
			}
			var res unitResult
			select {
			case res = <-resCh:
			case <-immediate:
				return *splitErr
			case <-ctx.Done():
				return ctx.Err()
			}
			if !res.skipped {
				for _, pcm := range res.pcm {
					if err := p.sink.Write(ctx, pcm); err != nil {
						return err
					}
				}
			}
			if stopAfterCurrent {
				return *splitErr
			}
		case <-interrupt:
			interrupt = nil
			if p.cfg.InterruptionPolicy == Graceful {
				stopAfterCurrent = true
			}
			if p.cfg.InterruptionPolicy == Immediate {
				return *splitErr
			}
			// Drain keeps looping until resultQueue closes naturally.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// synthesizeUnit synthesizes one unit's audio, applying the configured
// error policy on failure. It never returns an error itself: a failed unit
// is reported via unitResult.skipped so the playback loop can move on.
func (p *Pipeline) synthesizeUnit(ctx context.Context, text string) unitResult {
	attempts := 1
	if p.cfg.ErrorPolicy == ErrorRetry {
		attempts = p.cfg.RetryAttempts
	}

	for i := 0; i < attempts; i++ {
		pcm, err := p.callTTS(ctx, p.tts, text)
		if err == nil {
			return unitResult{pcm: pcm}
		}
		if i < attempts-1 && p.metrics.OnUnitRetried != nil {
			p.metrics.OnUnitRetried()
		}
	}

	if p.cfg.ErrorPolicy == ErrorFallback && p.cfg.Fallback != nil {
		if pcm, err := p.callTTS(ctx, p.cfg.Fallback, text); err == nil {
			return unitResult{pcm: pcm}
		}
	}

	if p.metrics.OnUnitSkipped != nil {
		p.metrics.OnUnitSkipped()
	}
	return unitResult{skipped: true}
}

// callTTS feeds text through one SynthesizeStream call and collects the
// resulting PCM chunks. Per the tts.Provider contract, a mid-stream failure
// closes the audio channel early with no explicit error; an empty result
// with no context cancellation is therefore treated as a provider failure.
func (p *Pipeline) callTTS(ctx context.Context, provider tts.Provider, text string) ([][]byte, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := provider.SynthesizeStream(ctx, textCh, p.voice)
	if err != nil {
		return nil, err
	}

	var chunks [][]byte
	for pcm := range audioCh {
		chunks = append(chunks, pcm)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(chunks) == 0 {
		return nil, errors.New("pipeline: tts produced no audio for unit")
	}
	return chunks, nil
}
