package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"adunlock/config"
	"adunlock/controllers"
	"adunlock/logger"
	"adunlock/metrics"
	"adunlock/routes"
	"adunlock/store"
	"adunlock/tracker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// ---- Config + logging
	cfg, err := config.Load()
	if err != nil {
		logger.New("json", "error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- State store (opened at startup, closed at shutdown)
	st, err := store.Open(ctx, cfg.StateDSN)
	if err != nil {
		log.Error("could not open state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("state store close failed", "error", err)
		}
	}()

	// ---- Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	trk := tracker.New(st,
		tracker.WithLogger(log),
		tracker.WithMetrics(metrics.New(reg)),
	)
	ctl := controllers.New(trk, cfg, log)
	app := routes.NewApp(cfg, ctl, log, reg)

	if !cfg.AdminEnabled() {
		log.Warn("admin endpoints disabled: set JWT_SECRET_KEY and ADMIN_PASSWORD_HASH")
	}

	// ---- Start
	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", "port", cfg.Port, "state_dsn_scheme", dsnScheme(cfg.StateDSN))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// dsnScheme keeps credentials out of the startup log.
func dsnScheme(dsn string) string {
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return scheme
	}
	if dsn == "" {
		return "memory"
	}
	return "file"
}
