// Package chatvoice adapts a chat platform's voice channel (Discord, via
// audio.Platform/audio.Connection) to the supervisor's uniform ingress
// contract: on_audio(frame), on_speaker_start(id), on_speaker_end(id), and a
// play(bytes) audio sink. It is the framed-Opus ingress: every inbound blob
// from the platform is already one complete, independently decodable Opus
// frame, so it is wired to codec.FramedOpus rather than codec.ContainerOpus.
//
// Grounded on pkg/audio/discord/connection.go's per-SSRC demux/decode loop
// and its sendLoop's PCM-to-Opus buffering and framing discipline, adapted
// from glyphoxa's NPC-output model to the gateway's uniform Adapter
// interface (audio.Connection stays exactly as the teacher wrote it; only
// the consumer wrapped around it is new).
package chatvoice

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxgate/voxgate/internal/codec"
	"github.com/voxgate/voxgate/pkg/audio"
)

// Handlers are the callbacks the supervisor registers to observe ingress
// events. Any nil handler is simply not invoked.
type Handlers struct {
	OnAudio        func(speakerID string, pcm []byte)
	OnSpeakerStart func(speakerID string)
	OnSpeakerEnd   func(speakerID string)
}

// Adapter bridges one audio.Connection to the core event contract.
//
// Adapter is safe for concurrent use: Play may be called from the response
// pipeline's playback goroutine while the connection's own goroutines
// deliver inbound events.
type Adapter struct {
	conn audio.Connection

	mu         sync.Mutex
	active     map[string]bool // speakers currently believed to be talking
	joinSignal chan struct{}   // wakes pumpExistingStreams after a new InputStreams entry appears

	handlers Handlers

	done      chan struct{}
	closeOnce sync.Once
}

// New wires an Adapter around an already-connected audio.Connection,
// starting background goroutines that translate its InputStreams and
// participant-change events into h. The Adapter takes no ownership of conn
// beyond calling Disconnect from Close.
func New(conn audio.Connection, h Handlers) *Adapter {
	a := &Adapter{
		conn:     conn,
		active:   make(map[string]bool),
		handlers: h,
		done:     make(chan struct{}),
	}

	conn.OnParticipantChange(a.handleParticipantChange)
	go a.pumpExistingStreams()
	return a
}

// Play encodes and writes PCM audio to the channel's output stream. pcm is
// interleaved little-endian int16 samples; the underlying Connection
// performs whatever resampling and Opus encoding its transport needs.
func (a *Adapter) Play(ctx context.Context, pcm []byte) error {
	frame := audio.AudioFrame{Data: pcm, SampleRate: 48000, Channels: 2}
	select {
	case a.conn.OutputStream() <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return fmt.Errorf("chatvoice: adapter closed")
	}
}

// Close tears down the underlying connection and stops all adapter
// goroutines. Safe to call more than once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.conn.Disconnect()
	})
	return err
}

// pumpExistingStreams subscribes to every currently-known InputStreams
// channel and re-checks for newly joined speakers whenever a join event
// fires, per audio.Connection's documented "call InputStreams again after
// EventJoin" contract.
func (a *Adapter) pumpExistingStreams() {
	watched := make(map[string]bool)
	a.consumeNewStreams(watched)

	joinSignal := make(chan struct{}, 1)
	a.mu.Lock()
	a.joinSignal = joinSignal
	a.mu.Unlock()

	for {
		select {
		case <-a.done:
			return
		case <-joinSignal:
			a.consumeNewStreams(watched)
		}
	}
}

// consumeNewStreams starts a reader goroutine for every speaker id present
// in the connection's current InputStreams snapshot that isn't already
// being watched.
func (a *Adapter) consumeNewStreams(watched map[string]bool) {
	for id, ch := range a.conn.InputStreams() {
		if watched[id] {
			continue
		}
		watched[id] = true
		go a.readSpeaker(id, ch)
	}
}

// readSpeaker decodes one speaker's framed-Opus stream to PCM and forwards
// it via OnAudio until the channel closes (the speaker left).
func (a *Adapter) readSpeaker(speakerID string, frames <-chan audio.AudioFrame) {
	dec, err := codec.NewFramedOpus()
	if err != nil {
		return
	}

	for frame := range frames {
		result, err := dec.Decode(frame.Data)
		if err != nil || result.InvalidData || len(result.PCM) == 0 {
			continue
		}
		if a.handlers.OnAudio != nil {
			a.handlers.OnAudio(speakerID, result.PCM)
		}
	}
}

// handleParticipantChange translates audio.Connection join/leave events
// into speaker_start/speaker_end and wakes pumpExistingStreams to pick up
// newly created InputStreams entries.
func (a *Adapter) handleParticipantChange(ev audio.Event) {
	switch ev.Type {
	case audio.EventJoin:
		a.mu.Lock()
		already := a.active[ev.UserID]
		a.active[ev.UserID] = true
		signal := a.joinSignal
		a.mu.Unlock()

		if signal != nil {
			select {
			case signal <- struct{}{}:
			default:
			}
		}
		if !already && a.handlers.OnSpeakerStart != nil {
			a.handlers.OnSpeakerStart(ev.UserID)
		}
	case audio.EventLeave:
		a.mu.Lock()
		delete(a.active, ev.UserID)
		a.mu.Unlock()
		if a.handlers.OnSpeakerEnd != nil {
			a.handlers.OnSpeakerEnd(ev.UserID)
		}
	}
}
