package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentrygate/internal/device/devicetest"
	"sentrygate/internal/hours"
	"sentrygate/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// recorder collects every emitted finding.
type recorder struct {
	mu       sync.Mutex
	findings []model.Finding
}

func (r *recorder) Emit(ctx context.Context, rec model.Record) {
	f, ok := rec.(model.Finding)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, f)
}

func (r *recorder) byKind(kind string) []model.Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Finding
	for _, f := range r.findings {
		if f.EventType == kind {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) count(kind string) int {
	return len(r.byKind(kind))
}

func runScanner(t *testing.T, s *Scanner, stop func(*recorder) bool, rec *recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return stop(rec) }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func window(t *testing.T, start, end string) *hours.Window {
	t.Helper()
	w, err := hours.ParseWindow(start, end)
	require.NoError(t, err)
	return &w
}

func TestScanner_ExcessAdminsScenario(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{
		{ID: "1", Name: "a", Privilege: model.PrivilegeAdmin, Password: "x"},
		{ID: "2", Name: "b", Privilege: model.PrivilegeAdmin, Password: "x"},
		{ID: "3", Name: "c", Privilege: model.PrivilegeAdmin, Password: "x"},
	}
	dev.Attendance = []model.AttendanceRecord{
		{UserID: "1", Timestamp: time.Now().Add(-time.Hour)},
	}

	rec := &recorder{}
	s := NewScanner(dev, rec, nil, testLogger(), ScannerConfig{
		AdminCount: 2,
		Window:     nil,
		Interval:   5 * time.Millisecond,
	})

	runScanner(t, s, func(r *recorder) bool { return r.count(model.FindingExcessAdmins) > 0 }, rec)

	f := rec.byKind(model.FindingExcessAdmins)[0]
	assert.Equal(t, 3, f.AdminCount)
	assert.Equal(t, 2, f.ExpectedCount)
	assert.Equal(t, model.SeverityWarning, f.Severity)
	assert.NotEmpty(t, f.ID)
	assert.False(t, f.Timestamp.IsZero())
}

func TestScanner_PasswordSweepOnlyOnce(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "a", Password: ""}}

	rec := &recorder{}
	s := NewScanner(dev, rec, nil, testLogger(), ScannerConfig{
		AdminCount: 2,
		Interval:   time.Millisecond,
	})

	// Wait until several cycles have run, then confirm the sweep fired
	// exactly once.
	runScanner(t, s, func(r *recorder) bool { return r.count(model.FindingNoAttendances) >= 3 }, rec)
	assert.Equal(t, 1, rec.count(model.FindingNoPasswordUser))
}

func TestScanner_ClockDriftFinding(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "a", Password: "x"}}
	dev.ClockSkew = 10 * time.Minute
	dev.Attendance = []model.AttendanceRecord{
		{UserID: "1", Timestamp: time.Now().Add(-time.Hour)},
	}

	rec := &recorder{}
	s := NewScanner(dev, rec, nil, testLogger(), ScannerConfig{
		AdminCount: 2,
		Window:     window(t, "0", "23:59"),
		Interval:   5 * time.Millisecond,
	})

	runScanner(t, s, func(r *recorder) bool { return r.count(model.FindingTimeDrift) > 0 }, rec)

	f := rec.byKind(model.FindingTimeDrift)[0]
	assert.InDelta(t, 600, f.DriftSeconds, 5)
}

func TestScanner_InvalidWindowConfig(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "a", Password: "x"}}
	base := time.Now().Add(-time.Hour)
	dev.Attendance = []model.AttendanceRecord{
		{UserID: "1", Timestamp: base.Add(10 * time.Second)},
		{UserID: "1", Timestamp: base},
	}

	rec := &recorder{}
	s := NewScanner(dev, rec, nil, testLogger(), ScannerConfig{
		AdminCount: 2,
		WindowErr:  errors.New("expected 2 bounds, got 3"),
		Interval:   5 * time.Millisecond,
	})

	runScanner(t, s, func(r *recorder) bool { return r.count(model.FindingInvalidConfig) > 0 }, rec)

	// The range check is skipped but the rapid-entry sweep still ran.
	assert.Zero(t, rec.count(model.FindingAttendanceOutOfRange))
	assert.NotZero(t, rec.count(model.FindingRapidRepeatEntry))
}

func TestScanner_TransportErrorRetriesAndRecovers(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "a", Password: "x"}}
	dev.FailDials = 2

	rec := &recorder{}
	s := NewScanner(dev, rec, nil, testLogger(), ScannerConfig{
		AdminCount: 2,
		Interval:   5 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})

	// The scan survives the failed dials, reports them, and eventually
	// completes a full cycle.
	runScanner(t, s, func(r *recorder) bool { return r.count(model.FindingNoAttendances) > 0 }, rec)
	assert.NotZero(t, rec.count(model.FindingError))
}

func TestScanner_ShutdownFindingOnCancel(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "a", Password: "x"}}

	rec := &recorder{}
	s := NewScanner(dev, rec, nil, testLogger(), ScannerConfig{
		AdminCount: 2,
		Interval:   time.Hour, // long: cancellation must still be prompt
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateScanning }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(model.FindingNoAttendances) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 1, rec.count(model.FindingShutdown))
	assert.Equal(t, StateTerminated, s.State())

	// Every scoped session was released.
	assert.Equal(t, dev.Dials(), dev.Closes())
}
