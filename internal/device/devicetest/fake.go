package devicetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentrygate/internal/device"
	"sentrygate/internal/model"
)

// Device is an in-memory terminal for tests. It implements device.Dialer and
// records every actuation so tests can assert on door behavior.
type Device struct {
	mu sync.Mutex

	Users      []model.User
	Attendance []model.AttendanceRecord
	ClockSkew  time.Duration

	// Error injection. DialErr fails the next FailDials dials; the per-call
	// errors fail every call until cleared.
	DialErr       error
	FailDials     int
	UsersErr      error
	AttendanceErr error
	ClockErr      error
	UnlockErr     error
	ToneErr       error

	Unlocks []time.Duration
	Tones   []int

	DialCount  int
	CloseCount int

	current *Session
}

// New returns an empty fake terminal.
func New() *Device {
	return &Device{}
}

// Dial opens a fake session, or fails if dial errors are queued.
func (d *Device) Dial(ctx context.Context) (device.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.DialCount++
	if d.FailDials > 0 {
		d.FailDials--
		if d.DialErr != nil {
			return nil, d.DialErr
		}
		return nil, errors.New("dial refused")
	}

	s := &Session{
		dev:    d,
		events: make(chan model.AuthAttempt, 16),
	}
	d.current = s
	return s, nil
}

// PushAttempt delivers a live authentication attempt to the active session.
func (d *Device) PushAttempt(a model.AuthAttempt) {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()
	if s != nil {
		s.events <- a
	}
}

// DropFeed closes the active session's live feed, simulating a transport
// drop on the terminal side.
func (d *Device) DropFeed() {
	d.mu.Lock()
	s := d.current
	d.current = nil
	d.mu.Unlock()
	if s != nil {
		s.dropOnce.Do(func() { close(s.events) })
	}
}

// Dials returns how many sessions have been opened.
func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DialCount
}

// Closes returns how many sessions have been released.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCount
}

// RecordedUnlocks returns a copy of all unlock durations seen so far.
func (d *Device) RecordedUnlocks() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, len(d.Unlocks))
	copy(out, d.Unlocks)
	return out
}

// RecordedTones returns a copy of all denied-tone plays seen so far.
func (d *Device) RecordedTones() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.Tones))
	copy(out, d.Tones)
	return out
}

// Session is one fake terminal connection.
type Session struct {
	dev      *Device
	events   chan model.AuthAttempt
	dropOnce sync.Once
	closed   bool
}

// Users returns the configured roster snapshot.
func (s *Session) Users(ctx context.Context) ([]model.User, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.UsersErr != nil {
		return nil, s.dev.UsersErr
	}
	out := make([]model.User, len(s.dev.Users))
	copy(out, s.dev.Users)
	return out, nil
}

// AttendanceLog returns the configured attendance snapshot.
func (s *Session) AttendanceLog(ctx context.Context) ([]model.AttendanceRecord, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.AttendanceErr != nil {
		return nil, s.dev.AttendanceErr
	}
	out := make([]model.AttendanceRecord, len(s.dev.Attendance))
	copy(out, s.dev.Attendance)
	return out, nil
}

// Clock returns host time shifted by the configured skew.
func (s *Session) Clock(ctx context.Context) (time.Time, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.ClockErr != nil {
		return time.Time{}, s.dev.ClockErr
	}
	return time.Now().Add(s.dev.ClockSkew), nil
}

// Unlock records the requested strike duration.
func (s *Session) Unlock(ctx context.Context, d time.Duration) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.UnlockErr != nil {
		return s.dev.UnlockErr
	}
	s.dev.Unlocks = append(s.dev.Unlocks, d)
	return nil
}

// PlayDeniedTone records the requested tone index.
func (s *Session) PlayDeniedTone(ctx context.Context, index int) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.ToneErr != nil {
		return s.dev.ToneErr
	}
	s.dev.Tones = append(s.dev.Tones, index)
	return nil
}

// LiveEvents returns the session's attempt feed.
func (s *Session) LiveEvents(ctx context.Context) (<-chan model.AuthAttempt, error) {
	return s.events, nil
}

// Close marks the session closed and detaches it from the device.
func (s *Session) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.CloseCount++
	if s.dev.current == s {
		s.dev.current = nil
	}
	return nil
}
