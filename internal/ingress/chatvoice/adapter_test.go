package chatvoice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/audio"
)

// fakeConnection is a minimal audio.Connection double driven directly by
// tests: no real Opus en/decoding, just enough surface to exercise Adapter.
type fakeConnection struct {
	mu       sync.Mutex
	inputs   map[string]chan audio.AudioFrame
	output   chan audio.AudioFrame
	changeCb func(audio.Event)

	disconnected bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		inputs: make(map[string]chan audio.AudioFrame),
		output: make(chan audio.AudioFrame, 16),
	}
}

func (f *fakeConnection) InputStreams() map[string]<-chan audio.AudioFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(f.inputs))
	for id, ch := range f.inputs {
		snap[id] = ch
	}
	return snap
}

func (f *fakeConnection) OutputStream() chan<- audio.AudioFrame { return f.output }

func (f *fakeConnection) OnParticipantChange(cb func(audio.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeCb = cb
}

func (f *fakeConnection) Disconnect() error {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
	return nil
}

// join simulates a participant joining: registers an input channel, then
// fires the join event the same way the real Discord connection does.
func (f *fakeConnection) join(speakerID string) chan audio.AudioFrame {
	ch := make(chan audio.AudioFrame, 16)
	f.mu.Lock()
	f.inputs[speakerID] = ch
	cb := f.changeCb
	f.mu.Unlock()
	if cb != nil {
		cb(audio.Event{Type: audio.EventJoin, UserID: speakerID})
	}
	return ch
}

func (f *fakeConnection) leave(speakerID string) {
	f.mu.Lock()
	cb := f.changeCb
	f.mu.Unlock()
	if cb != nil {
		cb(audio.Event{Type: audio.EventLeave, UserID: speakerID})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestAdapterEmitsSpeakerStartOnJoin(t *testing.T) {
	conn := newFakeConnection()
	var started []string
	var mu sync.Mutex

	a := New(conn, Handlers{
		OnSpeakerStart: func(id string) {
			mu.Lock()
			started = append(started, id)
			mu.Unlock()
		},
	})
	defer a.Close()

	conn.join("user-1")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(started) == 1 && started[0] == "user-1"
	})
}

func TestAdapterEmitsSpeakerEndOnLeave(t *testing.T) {
	conn := newFakeConnection()
	ended := make(chan string, 1)

	a := New(conn, Handlers{
		OnSpeakerEnd: func(id string) { ended <- id },
	})
	defer a.Close()

	conn.join("user-1")
	conn.leave("user-1")

	select {
	case id := <-ended:
		if id != "user-1" {
			t.Fatalf("id = %q, want user-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaker end")
	}
}

func TestAdapterDoesNotForwardEmptyFrameToOnAudio(t *testing.T) {
	conn := newFakeConnection()
	received := make(chan []byte, 4)

	a := New(conn, Handlers{
		OnAudio: func(_ string, pcm []byte) { received <- pcm },
	})
	defer a.Close()

	ch := conn.join("user-1")

	// An empty frame decodes to zero PCM and must not be forwarded.
	ch <- audio.AudioFrame{Data: nil}

	select {
	case <-received:
		t.Fatal("expected no audio forwarded for an empty frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlayWritesToOutputStream(t *testing.T) {
	conn := newFakeConnection()
	a := New(conn, Handlers{})
	defer a.Close()

	if err := a.Play(context.Background(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select {
	case frame := <-conn.output:
		if len(frame.Data) != 4 {
			t.Fatalf("frame.Data = %v, want 4 bytes", frame.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output frame")
	}
}

func TestCloseDisconnectsUnderlyingConnection(t *testing.T) {
	conn := newFakeConnection()
	a := New(conn, Handlers{})

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	conn.mu.Lock()
	disconnected := conn.disconnected
	conn.mu.Unlock()
	if !disconnected {
		t.Fatal("expected underlying connection to be disconnected")
	}

	// Play after Close must not block or panic.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Play(ctx, []byte{1}); err == nil {
		t.Fatal("expected error from Play after Close")
	}
}
