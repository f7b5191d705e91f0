package emit

import (
	"context"
	"sync"

	"sentrygate/internal/model"
)

// Stream is a per-session cancellable record feed. One monitoring engine
// produces into it, one consumer (the SSE handler) pulls from Records until
// the stream closes or its own context ends.
type Stream struct {
	ch        chan model.Record
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream creates a stream with the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{
		ch:   make(chan model.Record, buffer),
		done: make(chan struct{}),
	}
}

// Emit delivers the record to the consumer. If the stream is closed or the
// context ends first, the record is dropped.
func (s *Stream) Emit(ctx context.Context, rec model.Record) {
	select {
	case s.ch <- rec:
	case <-s.done:
	case <-ctx.Done():
	}
}

// Records returns the consumer side of the stream.
func (s *Stream) Records() <-chan model.Record {
	return s.ch
}

// Done is closed when the stream has been shut down.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close shuts the stream down. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
