package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"sentrygate/internal/audit"
	"sentrygate/internal/config"
	"sentrygate/internal/device"
	"sentrygate/internal/device/zk"
	"sentrygate/internal/emit"
	"sentrygate/internal/hours"
)

// Headless periodic security audit of one terminal, driven entirely by the
// environment. The sentrygate server offers the same engine over HTTP.
func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.DeviceHost == "" {
		logger.Error("ZK_IP is required")
		os.Exit(1)
	}
	if err := cfg.LoadPolicyFile(); err != nil {
		logger.Error("loading policy file", "error", err)
		os.Exit(1)
	}

	logger.Info("starting security monitor",
		"terminal", cfg.DeviceHost,
		"terminal_port", cfg.DevicePort,
		"admin_count", cfg.AdminCount,
		"allowed_hours", cfg.AllowedHours,
		"check_interval", cfg.CheckInterval.String())

	window, windowErr := buildWindow(cfg.AllowedHours)
	if windowErr != nil {
		logger.Warn("malformed allowed hours, the range check will be skipped", "error", windowErr)
	}

	emitters := []emit.Emitter{emit.NewLogEmitter(logger)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Timeout(10*time.Second),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			logger.Warn("connecting to NATS failed, continuing without event bus", "error", err)
		} else {
			defer nc.Close()
			emitters = append(emitters, emit.NewPublisher(nc, logger, nil))
		}
	}

	dialer := device.NewGate(&zk.Dialer{
		Host:    cfg.DeviceHost,
		Port:    cfg.DevicePort,
		Timeout: cfg.DeviceTimeout,
		Logger:  logger,
	})

	scanner := audit.NewScanner(dialer, emit.NewMulti(emitters...), nil, logger, audit.ScannerConfig{
		AdminCount: cfg.AdminCount,
		Window:     window,
		WindowErr:  windowErr,
		Interval:   cfg.CheckInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner.Run(ctx)
	logger.Info("security monitor stopped")
}

func buildWindow(allowedHours string) (*hours.Window, error) {
	start, end, err := config.SplitHours(allowedHours)
	if err != nil {
		return nil, err
	}
	w, err := hours.ParseWindow(start, end)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
