package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"sentrygate/internal/api"
	"sentrygate/internal/config"
	"sentrygate/internal/emit"
	"sentrygate/internal/metrics"
	"sentrygate/internal/store"
)

func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting sentrygate",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"terminal", cfg.DeviceHost,
		"terminal_port", cfg.DevicePort,
		"allowed_hours", cfg.AllowedHours,
		"admin_count", cfg.AdminCount,
		"check_interval", cfg.CheckInterval.String(),
		"max_findings", cfg.MaxFindings)

	if err := cfg.LoadPolicyFile(); err != nil {
		logger.Error("loading policy file", "error", err)
		os.Exit(1)
	}

	m := metrics.NewMetrics()
	st := store.NewMemoryStore(cfg.MaxFindings, cfg.DedupeCap)

	emitters := []emit.Emitter{emit.NewLogEmitter(logger), st}

	// The event bus is optional: without it, events still reach the log,
	// the store and connected stream clients.
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL,
			nats.Timeout(10*time.Second),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			logger.Warn("connecting to NATS failed, continuing without event bus", "error", err)
		} else {
			defer nc.Close()
			logger.Info("connected to NATS", "url", cfg.NATSURL)
			emitters = append(emitters, emit.NewPublisher(nc, logger, m.ObservePublishError))
		}
	}

	a := api.NewAPI(cfg, st, m, nc, emit.NewMulti(emitters...), logger)
	mux := http.NewServeMux()
	a.SetupRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	logger.Info("sentrygate stopped")
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
