package access

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentrygate/internal/device/devicetest"
	"sentrygate/internal/emit"
	"sentrygate/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// collectEvents drains the stream until an event of the wanted type arrives
// or the timeout expires.
func waitForEvent(t *testing.T, stream *emit.Stream, eventType string) model.AccessEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rec := <-stream.Records():
			if ev, ok := rec.(model.AccessEvent); ok && ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestController_GrantUnlocksDoor(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "alice"}}

	policy, err := NewPolicy([]string{"alice"}, nil, "", "")
	require.NoError(t, err)

	stream := emit.NewStream(16)
	ctrl := NewController(dev, policy, stream, nil, testLogger(), ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	// Wait for the session to come up, then push an attempt.
	require.Eventually(t, func() bool { return dev.Dials() > 0 }, time.Second, 5*time.Millisecond)
	dev.PushAttempt(model.AuthAttempt{UserID: "1", Timestamp: time.Now()})

	ev := waitForEvent(t, stream, model.EventAccessGranted)
	assert.Equal(t, "1", ev.UserID)
	assert.Equal(t, "alice", ev.UserName)
	assert.True(t, ev.DoorUnlocked)

	unlocks := dev.RecordedUnlocks()
	require.Len(t, unlocks, 1)
	assert.Equal(t, 5*time.Second, unlocks[0])

	cancel()
	assert.NoError(t, <-done)
}

func TestController_DenyPlaysTone(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "2", Name: "bob"}}

	policy, err := NewPolicy(nil, []string{"bob"}, "", "")
	require.NoError(t, err)

	stream := emit.NewStream(16)
	ctrl := NewController(dev, policy, stream, nil, testLogger(), ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return dev.Dials() > 0 }, time.Second, 5*time.Millisecond)
	dev.PushAttempt(model.AuthAttempt{UserID: "2", Timestamp: time.Now()})

	ev := waitForEvent(t, stream, model.EventAccessDenied)
	assert.Equal(t, ReasonBlacklisted, ev.Reason)
	assert.False(t, ev.DoorUnlocked)
	assert.Empty(t, dev.RecordedUnlocks())
	assert.Equal(t, []int{2}, dev.RecordedTones())

	cancel()
	assert.NoError(t, <-done)
}

func TestController_ActuationFailureDoesNotFlipDecision(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "alice"}}
	dev.UnlockErr = errors.New("relay jammed")

	policy, err := NewPolicy([]string{"alice"}, nil, "", "")
	require.NoError(t, err)

	stream := emit.NewStream(16)
	ctrl := NewController(dev, policy, stream, nil, testLogger(), ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return dev.Dials() > 0 }, time.Second, 5*time.Millisecond)
	dev.PushAttempt(model.AuthAttempt{UserID: "1", Timestamp: time.Now()})

	// The grant is still reported even though the unlock call failed.
	ev := waitForEvent(t, stream, model.EventAccessGranted)
	assert.Equal(t, "alice", ev.UserName)

	cancel()
	assert.NoError(t, <-done)
}

func TestController_ReconnectsAfterFeedDrop(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "alice"}}

	policy, err := NewPolicy([]string{"alice"}, nil, "", "")
	require.NoError(t, err)

	stream := emit.NewStream(32)
	ctrl := NewController(dev, policy, stream, nil, testLogger(), ControllerConfig{
		RetryDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return dev.Dials() == 1 }, time.Second, 5*time.Millisecond)
	dev.DropFeed()

	// The drop surfaces as an error event and the controller dials again.
	ev := waitForEvent(t, stream, model.EventError)
	assert.Contains(t, ev.Detail, "closed")
	require.Eventually(t, func() bool { return dev.Dials() >= 2 }, time.Second, 5*time.Millisecond)

	// The new session still processes events.
	dev.PushAttempt(model.AuthAttempt{UserID: "1", Timestamp: time.Now()})
	waitForEvent(t, stream, model.EventAccessGranted)

	cancel()
	assert.NoError(t, <-done)
}

func TestController_SkipsEmptyAttempts(t *testing.T) {
	dev := devicetest.New()
	dev.Users = []model.User{{ID: "1", Name: "alice"}}

	policy, err := NewPolicy([]string{"alice"}, nil, "", "")
	require.NoError(t, err)

	stream := emit.NewStream(16)
	ctrl := NewController(dev, policy, stream, nil, testLogger(), ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return dev.Dials() > 0 }, time.Second, 5*time.Millisecond)
	dev.PushAttempt(model.AuthAttempt{})
	dev.PushAttempt(model.AuthAttempt{UserID: "1", Timestamp: time.Now()})

	ev := waitForEvent(t, stream, model.EventAccessGranted)
	assert.Equal(t, "1", ev.UserID)
	assert.Len(t, dev.RecordedUnlocks(), 1)

	cancel()
	assert.NoError(t, <-done)
}

func TestController_ShutdownOnCancel(t *testing.T) {
	dev := devicetest.New()
	policy, err := NewPolicy(nil, nil, "", "")
	require.NoError(t, err)

	stream := emit.NewStream(16)
	ctrl := NewController(dev, policy, stream, nil, testLogger(), ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return ctrl.State() == StateListening }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	waitForEvent(t, stream, model.EventShutdown)
	assert.Equal(t, StateTerminated, ctrl.State())

	// The scoped session was released on exit.
	assert.Equal(t, dev.Dials(), dev.Closes())
}
