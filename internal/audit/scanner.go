package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentrygate/internal/device"
	"sentrygate/internal/emit"
	"sentrygate/internal/hours"
	"sentrygate/internal/metrics"
	"sentrygate/internal/model"
)

// Scanner states, exposed through State for readiness reporting.
const (
	StateScanning   = "scanning"
	StateTerminated = "terminated"
)

// ScannerConfig tunes one periodic audit session.
type ScannerConfig struct {
	// AdminCount is the allowed number of privileged accounts.
	AdminCount int

	// Window is the allowed attendance time-of-day range. Leave nil and set
	// WindowErr when the configured range is malformed: the scanner then
	// emits an invalid_config finding each cycle and skips the range check.
	Window    *hours.Window
	WindowErr error

	// Interval is the pause between audit cycles.
	Interval time.Duration

	// RetryDelay is the pause before retrying after a transport failure.
	RetryDelay time.Duration
}

func (c *ScannerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
}

// Scanner runs the three security checks against a terminal on a fixed
// interval, forever. Findings are emitted and forgotten; none is fatal to
// the loop. Only cancellation stops a scanner.
type Scanner struct {
	dialer  device.Dialer
	emitter emit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     ScannerConfig

	now   func() time.Time
	state atomic.Value
}

// NewScanner creates a security audit scanner. metrics may be nil.
func NewScanner(dialer device.Dialer, emitter emit.Emitter, m *metrics.Metrics, logger *slog.Logger, cfg ScannerConfig) *Scanner {
	cfg.applyDefaults()
	s := &Scanner{
		dialer:  dialer,
		emitter: emitter,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	s.state.Store(StateTerminated)
	return s
}

// State reports whether the scanner is running or terminated.
func (s *Scanner) State() string {
	return s.state.Load().(string)
}

// Run scans until ctx is cancelled. The first cycle audits exhaustively
// (whole attendance log, password sweep); later cycles use the incremental
// window. Transport failures are reported as error findings and retried.
func (s *Scanner) Run(ctx context.Context) error {
	s.state.Store(StateScanning)
	defer s.state.Store(StateTerminated)

	s.logger.Info("starting security audit",
		"admin_count", s.cfg.AdminCount,
		"interval", s.cfg.Interval,
		"window_valid", s.cfg.WindowErr == nil)

	firstCheck := true
	for {
		if ctx.Err() != nil {
			s.shutdown(ctx)
			return nil
		}

		start := s.now()
		err := s.scan(ctx, firstCheck)
		if ctx.Err() != nil {
			s.shutdown(ctx)
			return nil
		}

		delay := s.cfg.Interval
		if err != nil {
			s.logger.Error("audit cycle failed", "error", err)
			s.metrics.ObserveDeviceError()
			s.report(ctx, model.Finding{
				EventType: model.FindingError,
				Severity:  model.SeverityWarning,
				Detail:    err.Error(),
			})
			delay = s.cfg.RetryDelay
		} else {
			s.metrics.ObserveScan(s.now().Sub(start).Seconds())
		}

		// The exhaustive pass happens once per session, even if it failed
		// partway: repeating it after every hiccup would hammer the
		// terminal.
		firstCheck = false

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.shutdown(ctx)
			return nil
		}
	}
}

// scan runs one audit cycle. Each check acquires its own scoped session so
// a connection is never held across checks, matching the terminal's
// single-session protocol.
func (s *Scanner) scan(ctx context.Context, firstCheck bool) error {
	if err := device.WithSession(ctx, s.dialer, func(sess device.Session) error {
		deviceTime, err := sess.Clock(ctx)
		if err != nil {
			return fmt.Errorf("fetching device clock: %w", err)
		}
		s.reportAll(ctx, checkClock(deviceTime, s.now()))
		return nil
	}); err != nil {
		return err
	}

	if err := device.WithSession(ctx, s.dialer, func(sess device.Session) error {
		users, err := sess.Users(ctx)
		if err != nil {
			return fmt.Errorf("fetching roster: %w", err)
		}
		s.reportAll(ctx, checkRoster(users, s.cfg.AdminCount, firstCheck))
		return nil
	}); err != nil {
		return err
	}

	return device.WithSession(ctx, s.dialer, func(sess device.Session) error {
		records, err := sess.AttendanceLog(ctx)
		if err != nil {
			return fmt.Errorf("fetching attendance log: %w", err)
		}
		if s.cfg.WindowErr != nil {
			s.report(ctx, model.Finding{
				EventType: model.FindingInvalidConfig,
				Severity:  model.SeverityWarning,
				Detail:    fmt.Sprintf("allowed time range unusable, skipping range check: %v", s.cfg.WindowErr),
			})
		}
		s.reportAll(ctx, checkAttendance(records, s.cfg.Window, firstCheck))
		return nil
	})
}

func (s *Scanner) shutdown(ctx context.Context) {
	s.logger.Info("security audit stopped")
	s.report(context.WithoutCancel(ctx), model.Finding{
		EventType: model.FindingShutdown,
		Severity:  model.SeverityInfo,
	})
}

func (s *Scanner) reportAll(ctx context.Context, findings []model.Finding) {
	for _, f := range findings {
		s.report(ctx, f)
	}
}

// report stamps identity and time onto a finding and forwards it.
func (s *Scanner) report(ctx context.Context, f model.Finding) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = s.now().UTC()
	}
	s.metrics.ObserveFinding(f.EventType, f.Severity)
	s.emitter.Emit(ctx, f)
}
