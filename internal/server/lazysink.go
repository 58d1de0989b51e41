package server

import (
	"context"

	"github.com/voxgate/voxgate/internal/supervisor"
)

// lazySink satisfies supervisor.Sink before the real ingress adapter
// exists yet. browserws.Accept invokes Handlers.OnSpeakerStart — which
// must call supervisor.Attach with a Sink — synchronously, before Accept
// has returned the *browserws.Adapter that Sink should actually be. Play
// blocks until bind supplies that adapter, which happens moments later
// once Accept returns.
type lazySink struct {
	ready chan struct{}
	sink  supervisor.Sink
}

func newLazySink() *lazySink {
	return &lazySink{ready: make(chan struct{})}
}

// bind supplies the real sink. Must be called exactly once.
func (l *lazySink) bind(sink supervisor.Sink) {
	l.sink = sink
	close(l.ready)
}

func (l *lazySink) Play(ctx context.Context, pcm []byte) error {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.sink.Play(ctx, pcm)
}
