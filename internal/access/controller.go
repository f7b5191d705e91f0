package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"sentrygate/internal/device"
	"sentrygate/internal/emit"
	"sentrygate/internal/hours"
	"sentrygate/internal/metrics"
	"sentrygate/internal/model"
)

// Controller states, exposed through State for readiness reporting.
const (
	StateListening  = "listening"
	StateTerminated = "terminated"
)

// ControllerConfig tunes one live access-control session.
type ControllerConfig struct {
	// UnlockDuration is how long the door strike stays released on a grant.
	UnlockDuration time.Duration

	// DeniedTone is the terminal tone index played on a deny.
	DeniedTone int

	// Throttle is an optional fixed delay inserted after each processed
	// event to bound the emission rate. It is a throttle, not a poll
	// interval: the feed itself stays push-based.
	Throttle time.Duration

	// RetryDelay is the pause before reconnecting after a transport
	// failure.
	RetryDelay time.Duration
}

func (c *ControllerConfig) applyDefaults() {
	if c.UnlockDuration <= 0 {
		c.UnlockDuration = 5 * time.Second
	}
	if c.DeniedTone == 0 {
		c.DeniedTone = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
}

// Controller consumes a terminal's live authentication feed, applies the
// access policy to each attempt, and actuates the door. A transient device
// failure never terminates the session; only cancellation does.
type Controller struct {
	dialer  device.Dialer
	policy  Policy
	emitter emit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     ControllerConfig

	now   func() time.Time
	state atomic.Value
}

// NewController creates a live access controller. metrics may be nil.
func NewController(dialer device.Dialer, policy Policy, emitter emit.Emitter, m *metrics.Metrics, logger *slog.Logger, cfg ControllerConfig) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		dialer:  dialer,
		policy:  policy,
		emitter: emitter,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	c.state.Store(StateTerminated)
	return c
}

// State reports whether the controller is listening or terminated.
func (c *Controller) State() string {
	return c.state.Load().(string)
}

// Run listens until ctx is cancelled. Transport failures are reported as
// error events and followed by a reconnect; cancellation emits a shutdown
// event and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.state.Store(StateListening)
	defer c.state.Store(StateTerminated)

	c.logger.Info("starting live access control",
		"whitelist_size", len(c.policy.Whitelist),
		"blacklist_size", len(c.policy.Blacklist),
		"hours_restricted", c.policy.Hours != nil)

	for {
		if ctx.Err() != nil {
			c.shutdown(ctx)
			return nil
		}

		err := device.WithSession(ctx, c.dialer, func(sess device.Session) error {
			return c.listen(ctx, sess)
		})
		if ctx.Err() != nil {
			c.shutdown(ctx)
			return nil
		}
		if err == nil {
			// The feed ended without an error; treat it like a drop and
			// reconnect.
			err = fmt.Errorf("%w: live event feed ended", device.ErrConnection)
		}

		c.logger.Error("live capture interrupted", "error", err)
		c.metrics.ObserveDeviceError()
		c.emit(ctx, model.AccessEvent{
			EventType: model.EventError,
			Timestamp: c.now().UTC(),
			Detail:    err.Error(),
		})

		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			c.shutdown(ctx)
			return nil
		}
	}
}

// listen drives one connected session until the feed drops or ctx ends.
func (c *Controller) listen(ctx context.Context, sess device.Session) error {
	events, err := sess.LiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", device.ErrConnection, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case attempt, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: live event feed closed", device.ErrConnection)
			}
			if attempt.UserID == "" {
				continue
			}
			if err := c.handleAttempt(ctx, sess, attempt); err != nil {
				return err
			}
			if c.cfg.Throttle > 0 {
				select {
				case <-time.After(c.cfg.Throttle):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// handleAttempt decides and actuates one authentication attempt. Roster is
// re-fetched per event so policy always applies to a fresh snapshot. Only
// transport failures are returned; actuation failures never flip a decision
// that has already been made.
func (c *Controller) handleAttempt(ctx context.Context, sess device.Session, attempt model.AuthAttempt) error {
	roster, err := sess.Users(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetching roster: %v", device.ErrConnection, err)
	}

	now := c.now()
	dec := Decide(attempt.UserID, roster, c.policy, hours.FromClock(now))
	c.metrics.ObserveDecision(dec.Granted, dec.Reason)

	if dec.Granted {
		if err := sess.Unlock(ctx, c.cfg.UnlockDuration); err != nil {
			c.logger.Warn("unlock failed after grant", "user_id", attempt.UserID, "error", err)
		}
		c.logger.Info("access granted", "user_id", attempt.UserID, "user_name", dec.UserName, "reason", dec.Reason)
		c.emit(ctx, model.AccessEvent{
			EventType:    model.EventAccessGranted,
			Timestamp:    now.UTC(),
			UserID:       attempt.UserID,
			UserName:     dec.UserName,
			Reason:       dec.Reason,
			DoorUnlocked: true,
		})
		return nil
	}

	if err := sess.PlayDeniedTone(ctx, c.cfg.DeniedTone); err != nil {
		c.logger.Warn("denied tone failed", "user_id", attempt.UserID, "error", err)
	}
	c.logger.Info("access denied", "user_id", attempt.UserID, "user_name", dec.UserName, "reason", dec.Reason)
	c.emit(ctx, model.AccessEvent{
		EventType: model.EventAccessDenied,
		Timestamp: now.UTC(),
		UserID:    attempt.UserID,
		UserName:  dec.UserName,
		Reason:    dec.Reason,
	})
	return nil
}

func (c *Controller) shutdown(ctx context.Context) {
	c.logger.Info("live access control stopped")
	c.emit(context.WithoutCancel(ctx), model.AccessEvent{
		EventType: model.EventShutdown,
		Timestamp: c.now().UTC(),
	})
}

func (c *Controller) emit(ctx context.Context, ev model.AccessEvent) {
	c.metrics.ObserveAccessEvent(ev.EventType)
	c.emitter.Emit(ctx, ev)
}
