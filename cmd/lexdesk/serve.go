package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexdesk/lexdesk/internal/auth"
	"github.com/lexdesk/lexdesk/internal/config"
	httpapp "github.com/lexdesk/lexdesk/internal/http"
	"github.com/lexdesk/lexdesk/internal/http/authn"
	"github.com/lexdesk/lexdesk/internal/metrics"
	"github.com/lexdesk/lexdesk/internal/scheduler"
	"github.com/spf13/cobra"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the HTTP API, webhook ingress and the sync and health schedules.",
	Args:        cobra.NoArgs,
	Annotations: structuredLog,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var verifier authn.Verifier
	if cfg.APITokenHash != "" {
		v, err := auth.NewTokenVerifier(cfg.APITokenHash)
		if err != nil {
			return &exitError{code: exitInvalid, err: errors.New("API_TOKEN_HASH is not an argon2id hash; create one with `lexdesk token hash`")}
		}
		verifier = v
	} else {
		logger.Warn("API_TOKEN_HASH not set; /api routes reject every request")
	}

	opts := scheduler.Options{
		Service:        a.svc,
		Logger:         logger,
		SyncSchedule:   cfg.SyncSchedule,
		HealthSchedule: cfg.HealthSchedule,
		Workers:        cfg.HealthWorkers,
	}
	if a.locker != nil {
		opts.Locker = a.locker
	}
	sched, err := scheduler.New(opts)
	if err != nil {
		return &exitError{code: exitInvalid, err: err}
	}
	sched.Start(ctx)
	defer sched.Stop()

	_, metricsErr, err := metrics.StartServer(ctx, metrics.ServerOptions{Addr: cfg.MetricsAddr, Logger: logger})
	if err != nil {
		return err
	}

	srv := httpapp.NewEchoServer(a.svc, verifier, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "providers", a.reg.Providers())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-metricsErr:
		return err
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
