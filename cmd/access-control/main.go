package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"sentrygate/internal/access"
	"sentrygate/internal/config"
	"sentrygate/internal/device"
	"sentrygate/internal/device/zk"
	"sentrygate/internal/emit"
)

// Headless live access control against one terminal, driven entirely by the
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

	logger.Info("starting access control",
		"terminal", cfg.DeviceHost,
		"terminal_port", cfg.DevicePort,
		"whitelist_size", len(cfg.Whitelist),
		"blacklist_size", len(cfg.Blacklist),
		"allowed_hours", cfg.AllowedHours)

	policy := buildPolicy(cfg, logger)

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

	ctrl := access.NewController(dialer, policy, emit.NewMulti(emitters...), nil, logger, access.ControllerConfig{
		Throttle: cfg.StreamDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Run(ctx)
	logger.Info("access control stopped")
}

func buildPolicy(cfg *config.Config, logger *slog.Logger) access.Policy {
	start, end, err := config.SplitHours(cfg.AllowedHours)
	if err != nil {
		logger.Warn("malformed allowed hours, timed access will be denied", "error", err)
		policy, _ := access.NewPolicy(cfg.Whitelist, cfg.Blacklist, "", "")
		policy.HoursInvalid = true
		return policy
	}

	policy, err := access.NewPolicy(cfg.Whitelist, cfg.Blacklist, start, end)
	if err != nil {
		logger.Warn("malformed allowed hours, timed access will be denied", "error", err)
	}
	return policy
}
