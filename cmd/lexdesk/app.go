package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexdesk/lexdesk/internal/adapters/acmesign"
	"github.com/lexdesk/lexdesk/internal/adapters/mailflow"
	"github.com/lexdesk/lexdesk/internal/adapters/relaycrm"
	"github.com/lexdesk/lexdesk/internal/archive"
	"github.com/lexdesk/lexdesk/internal/config"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/credentials"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
	"github.com/lexdesk/lexdesk/internal/integrations/registry"
	"github.com/lexdesk/lexdesk/internal/integrations/service"
	"github.com/lexdesk/lexdesk/internal/store"
	"github.com/lexdesk/lexdesk/internal/store/memory"
	"github.com/lexdesk/lexdesk/internal/store/postgres"
	"github.com/lexdesk/lexdesk/internal/store/vaultkv"
)

// app is everything a command needs to drive the integration service.
type app struct {
	svc    *service.Service
	reg    *registry.Registry
	locker *postgres.Store
	pool   *pgxpool.Pool
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

type stores struct {
	integrations store.IntegrationStore
	credentials  store.CredentialStore
	logs         store.LogStore
	records      store.RecordStore
}

// newApp wires the service. Without DATABASE_URL everything lives in memory, which is only
// useful for local experiments; requireDB turns that into an error.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, requireDB bool) (*app, error) {
	a := &app{}
	var st stores
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		pg := postgres.New(pool)
		a.pool, a.locker = pool, pg
		st = stores{integrations: pg, credentials: pg, logs: pg, records: pg}
	} else {
		if requireDB {
			return nil, errors.New("DATABASE_URL is required")
		}
		logger.Warn("DATABASE_URL not set; integrations are kept in memory and lost on exit")
		mem := memory.New()
		st = stores{integrations: mem, credentials: mem, logs: mem, records: mem}
	}

	if cfg.CredentialBackend == config.CredentialBackendVault {
		kv, err := vaultkv.New(vaultkv.Options{
			Address:   cfg.Vault.Address,
			Token:     cfg.Vault.Token,
			Namespace: cfg.Vault.Namespace,
			Mount:     cfg.Vault.Mount,
			Prefix:    cfg.Vault.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("vault credential store: %w", err)
		}
		st.credentials = kv
	}

	reg, err := newRegistry(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.reg = reg

	previous, err := credentials.ParsePreviousKeys(cfg.CredentialsPreviousKeys)
	if err != nil {
		a.Close()
		return nil, err
	}
	keys, err := credentials.NewKeyRing(cfg.CredentialsKeyID, cfg.CredentialsSecret, previous)
	if err != nil {
		a.Close()
		return nil, err
	}
	creds, err := credentials.NewService(keys, st.credentials, credentials.RegistryBackend{Adapters: reg}, credentials.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc, err = service.New(service.Deps{
		Registry:      reg,
		Integrations:  st.integrations,
		Credentials:   creds,
		Logs:          st.logs,
		Records:       st.records,
		Monitor:       monitor.New(st.logs, logger),
		Logger:        logger,
		HealthWorkers: cfg.HealthWorkers,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newRegistry registers the built-in adapters. Signed e-signature documents are archived
// to S3 when ARCHIVE_S3_BUCKET is set.
func newRegistry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*registry.Registry, error) {
	client := &http.Client{Timeout: cfg.AdapterHTTPTimeout}

	var archiver acmesign.Archiver
	if cfg.Archive.Enabled() {
		s3, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		archiver = s3
	}

	reg := registry.New(logger)
	adapters := []integrations.Adapter{
		relaycrm.New(client, relaycrm.WithLogger(logger)),
		mailflow.New(client, mailflow.WithLogger(logger)),
		acmesign.New(acmesign.Options{HTTPClient: client, Archiver: archiver, Logger: logger}),
	}
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
