package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexdesk/lexdesk/internal/config"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/service"
	"github.com/spf13/cobra"
)

var (
	syncDirection string
	syncEntities  []string
	syncLimit     int
	syncSince     string
	syncDryRun    bool
)

var integrationsCmd = &cobra.Command{
	Use:         "integrations",
	Short:       "Operate on configured integrations",
	Annotations: structuredLog,
}

var integrationsSyncCmd = &cobra.Command{
	Use:   "sync <integration-id>",
	Short: "Run one sync now and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := syncOptionsFromFlags()
		if err != nil {
			return &exitError{code: exitInvalid, err: err}
		}
		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.svc.SyncIntegration(ctx, args[0], opts)
			if err != nil && !errors.Is(err, service.ErrSyncFailed) {
				return err
			}
			if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
				return werr
			}
			if err != nil || !res.Success {
				return silentExit(1)
			}
			return nil
		})
	},
}

var integrationsHealthCmd = &cobra.Command{
	Use:   "health [integration-id]",
	Short: "Probe one integration, or every active one; exits 1 when any is unhealthy",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var reports []service.HealthReport
			if len(args) == 1 {
				in, err := a.svc.GetIntegration(ctx, args[0])
				if err != nil {
					return err
				}
				reports = []service.HealthReport{{
					IntegrationID: in.ID,
					Name:          in.Name,
					Provider:      in.Provider,
					Health:        a.svc.GetIntegrationHealth(ctx, in.ID),
				}}
			} else {
				var err error
				if reports, err = a.svc.HealthAll(ctx); err != nil {
					return err
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			for _, r := range reports {
				if r.Health.Status != integrations.HealthHealthy {
					return silentExit(1)
				}
			}
			return nil
		})
	},
}

func init() {
	f := integrationsSyncCmd.Flags()
	f.StringVar(&syncDirection, "direction", string(integrations.SyncPull), "pull, push or bidirectional")
	f.StringSliceVar(&syncEntities, "entity", nil, "entities to sync (repeatable); default is every entity the adapter knows")
	f.IntVar(&syncLimit, "limit", 0, "cap records per entity; 0 means no cap")
	f.StringVar(&syncSince, "since", "", "only records changed after this RFC 3339 time")
	f.BoolVar(&syncDryRun, "dry-run", false, "read from the vendor without writing anything")
	integrationsCmd.AddCommand(integrationsSyncCmd, integrationsHealthCmd)
}

func syncOptionsFromFlags() (integrations.SyncOptions, error) {
	opts := integrations.SyncOptions{
		Direction: integrations.SyncDirection(syncDirection),
		Entities:  syncEntities,
		Limit:     syncLimit,
		DryRun:    syncDryRun,
	}
	if !opts.Direction.Valid() {
		return opts, fmt.Errorf("--direction %q must be pull, push or bidirectional", syncDirection)
	}
	if opts.Limit < 0 {
		return opts, errors.New("--limit must not be negative")
	}
	if syncSince != "" {
		t, err := time.Parse(time.RFC3339, syncSince)
		if err != nil {
			return opts, fmt.Errorf("--since: %w", err)
		}
		opts.Since = &t
	}
	return opts, nil
}

// withApp runs fn against the database-backed service with a signal-aware context.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{RequireDatabaseURL: true, RequireSecret: true})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, slog.Default(), true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
