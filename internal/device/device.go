package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentrygate/internal/model"
)

// ErrConnection wraps transport failures (terminal unreachable, dropped
// session, protocol error). Callers treat it as transient and retry.
var ErrConnection = errors.New("device connection error")

// Session is one live connection to a terminal. All read data is a snapshot
// valid only for the current check cycle; the only mutating calls are Unlock
// and PlayDeniedTone.
type Session interface {
	// Users fetches the current roster.
	Users(ctx context.Context) ([]model.User, error)

	// AttendanceLog fetches the terminal's authentication append log,
	// newest entries first.
	AttendanceLog(ctx context.Context) ([]model.AttendanceRecord, error)

	// Clock returns the terminal's wall-clock time.
	Clock(ctx context.Context) (time.Time, error)

	// Unlock releases the door strike for the given duration.
	Unlock(ctx context.Context, d time.Duration) error

	// PlayDeniedTone plays the indexed feedback tone on the terminal.
	PlayDeniedTone(ctx context.Context, index int) error

	// LiveEvents switches the session into event-push mode and returns an
	// infinite feed of authentication attempts. The feed is not restartable
	// within a session; the channel closes when the transport drops.
	LiveEvents(ctx context.Context) (<-chan model.AuthAttempt, error)

	// Close disconnects. Idempotent, never fails.
	Close() error
}

// Dialer opens terminal sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// WithSession dials a session, runs fn against it, and releases the session
// on every exit path.
func WithSession(ctx context.Context, d Dialer, fn func(Session) error) error {
	sess, err := d.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer sess.Close()

	return fn(sess)
}

// Gate serializes session acquisition for terminals that accept only one
// concurrent connection. Every engine sharing a terminal must dial through
// the same Gate; a session holds the gate until it is closed.
type Gate struct {
	inner Dialer
	sem   chan struct{}
}

// NewGate wraps a dialer with a single-session gate.
func NewGate(inner Dialer) *Gate {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &Gate{inner: inner, sem: sem}
}

// Dial blocks until the terminal is free, then opens a session. Waiting is
// cancellable through ctx.
func (g *Gate) Dial(ctx context.Context) (Session, error) {
	select {
	case <-g.sem:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
	}

	sess, err := g.inner.Dial(ctx)
	if err != nil {
		g.sem <- struct{}{}
		return nil, err
	}

	return &gatedSession{Session: sess, gate: g}, nil
}

type gatedSession struct {
	Session
	gate     *Gate
	released bool
}

// Close releases the underlying session and frees the gate exactly once.
func (s *gatedSession) Close() error {
	err := s.Session.Close()
	if !s.released {
		s.released = true
		s.gate.sem <- struct{}{}
	}
	return err
}
