// Package service orchestrates integrations: lifecycle, connection tests, syncs, health
// probes and webhook delivery on top of the registry, the credential service and the stores.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/credentials"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
	"github.com/lexdesk/lexdesk/internal/integrations/registry"
	"github.com/lexdesk/lexdesk/internal/metrics"
	"github.com/lexdesk/lexdesk/internal/store"
)

const defaultHealthWorkers = 4

// Deps wires a Service. Registry, Integrations and Credentials are required.
type Deps struct {
	Registry      *registry.Registry
	Integrations  store.IntegrationStore
	Credentials   *credentials.Service
	Logs          store.LogStore
	Records       store.RecordStore
	Monitor       monitor.Monitor
	Logger        *slog.Logger
	Now           func() time.Time
	HealthWorkers int
}

// Service is the public surface consumed by the HTTP API, the CLI and the scheduler.
type Service struct {
	registry      *registry.Registry
	store         store.IntegrationStore
	creds         *credentials.Service
	logs          store.LogStore
	records       store.RecordStore
	monitor       monitor.Monitor
	logger        *slog.Logger
	now           func() time.Time
	healthWorkers int

	mu      sync.Mutex
	syncing map[string]struct{}
}

func New(deps Deps) (*Service, error) {
	if deps.Registry == nil {
		return nil, errors.New("adapter registry is required")
	}
	if deps.Integrations == nil {
		return nil, errors.New("integration store is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("credential service is required")
	}
	s := &Service{
		registry:      deps.Registry,
		store:         deps.Integrations,
		creds:         deps.Credentials,
		logs:          deps.Logs,
		records:       deps.Records,
		monitor:       deps.Monitor,
		logger:        deps.Logger,
		now:           deps.Now,
		healthWorkers: deps.HealthWorkers,
		syncing:       make(map[string]struct{}),
	}
	if s.monitor == nil {
		s.monitor = monitor.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.healthWorkers < 1 {
		s.healthWorkers = defaultHealthWorkers
	}
	return s, nil
}

// CreateRequest carries plaintext credentials; they are sealed before anything is stored.
type CreateRequest struct {
	Name        string                      `json:"name"`
	Provider    string                      `json:"provider"`
	Config      integrations.Config         `json:"config"`
	Credentials integrations.Credentials    `json:"credentials"`
	Webhook     *integrations.WebhookConfig `json:"webhook,omitempty"`
	Metadata    map[string]any              `json:"metadata,omitempty"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Name        *string                     `json:"name,omitempty"`
	Config      integrations.Config         `json:"config,omitempty"`
	Credentials *integrations.Credentials   `json:"credentials,omitempty"`
	Webhook     *integrations.WebhookConfig `json:"webhook,omitempty"`
	Status      *integrations.Status        `json:"status,omitempty"`
	Metadata    map[string]any              `json:"metadata,omitempty"`
}

func (s *Service) GetIntegrations(ctx context.Context, page integrations.Page) (integrations.Paged[integrations.Integration], error) {
	out, err := s.store.ListIntegrations(ctx, page.Normalized())
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "list"}, err)
		return integrations.Paged[integrations.Integration]{}, fmt.Errorf("list integrations: %w", err)
	}
	for i := range out.Items {
		out.Items[i] = out.Items[i].Redacted()
	}
	return out, nil
}

func (s *Service) GetIntegration(ctx context.Context, id string) (integrations.Integration, error) {
	in, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "get", IntegrationID: id}, err)
		return integrations.Integration{}, err
	}
	return in.Redacted(), nil
}

// CreateIntegration validates the provider and config, tests the credentials once, and
// persists the integration as active or pending_setup depending on that test. Unlike the
// read operations it returns the webhook secret unredacted.
func (s *Service) CreateIntegration(ctx context.Context, req CreateRequest) (integrations.Integration, error) {
	started := s.now()
	provider := registry.NormalizeProvider(req.Provider)
	ev := monitor.Event{Action: "create", Provider: provider}

	in, err := s.create(ctx, provider, req)
	ev.Duration = s.now().Sub(started)
	if err != nil {
		s.monitor.Error(ctx, ev, err)
		return integrations.Integration{}, err
	}
	ev.IntegrationID = in.ID
	ev.Message = "integration created"
	ev.Details = map[string]any{"status": string(in.Status), "name": in.Name}
	s.monitor.Action(ctx, ev)
	// The webhook secret is returned here once so the vendor side can be configured.
	return in, nil
}

func (s *Service) create(ctx context.Context, provider string, req CreateRequest) (integrations.Integration, error) {
	adapter, ok := s.registry.Get(provider)
	if !ok {
		return integrations.Integration{}, fmt.Errorf("%w: %q", integrations.ErrUnsupportedProvider, req.Provider)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return integrations.Integration{}, fmt.Errorf("%w: name is required", integrations.ErrInvalidConfig)
	}
	cfg := req.Config
	if cfg == nil {
		cfg = integrations.Config{}
	}
	if err := validateConfig(adapter, cfg); err != nil {
		return integrations.Integration{}, err
	}
	plain := req.Credentials
	plain.Encrypted = false
	plain.Envelope = nil
	if err := plain.Validate(); err != nil {
		return integrations.Integration{}, fmt.Errorf("%w: %v", integrations.ErrInvalidCredentials, err)
	}

	now := s.now().UTC()
	in := integrations.Integration{
		ID:             uuid.NewString(),
		Name:           name,
		Slug:           integrations.Slugify(name),
		Provider:       provider,
		Status:         integrations.StatusPendingSetup,
		Config:         cfg,
		CredentialType: plain.Type,
		Webhook:        req.Webhook,
		Features:       adapter.Features(),
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Webhook == nil {
		if _, ok := adapter.(integrations.WebhookHandler); ok {
			secret, err := newWebhookSecret()
			if err != nil {
				return integrations.Integration{}, err
			}
			in.Webhook = &integrations.WebhookConfig{Secret: secret}
		}
	}

	auth := s.creds.ValidateCredentials(ctx, provider, plain, cfg)
	if auth.Success {
		in.Status = integrations.StatusActive
		next := now.Add(in.SyncInterval())
		in.NextSyncAt = &next
	} else {
		in.LastError = auth.Error
	}

	sealed, err := s.creds.Encrypt(plain)
	if err != nil {
		return integrations.Integration{}, err
	}
	if err := s.store.CreateIntegration(ctx, in); err != nil {
		return integrations.Integration{}, fmt.Errorf("create integration: %w", err)
	}
	if err := s.creds.StoreCredentials(ctx, in.ID, sealed); err != nil {
		if derr := s.store.DeleteIntegration(context.WithoutCancel(ctx), in.ID); derr != nil {
			s.logger.Error("integration rollback failed", "integration_id", in.ID, "err", derr)
		}
		return integrations.Integration{}, fmt.Errorf("store credentials: %w", err)
	}
	return in, nil
}

// UpdateIntegration applies req. New credentials or config are re-tested; a successful test
// reactivates an inactive, expired or pending integration.
func (s *Service) UpdateIntegration(ctx context.Context, id string, req UpdateRequest) (integrations.Integration, error) {
	started := s.now()
	ev := monitor.Event{Action: "update", IntegrationID: id}
	in, err := s.update(ctx, id, req, &ev)
	ev.Duration = s.now().Sub(started)
	if err != nil {
		s.monitor.Error(ctx, ev, err)
		return integrations.Integration{}, err
	}
	ev.Message = "integration updated"
	ev.Details = map[string]any{"status": string(in.Status)}
	s.monitor.Action(ctx, ev)
	return in.Redacted(), nil
}

func (s *Service) update(ctx context.Context, id string, req UpdateRequest, ev *monitor.Event) (integrations.Integration, error) {
	in, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		return integrations.Integration{}, err
	}
	ev.Provider = in.Provider
	adapter, ok := s.registry.Get(in.Provider)
	if !ok {
		return integrations.Integration{}, fmt.Errorf("%w: %q", integrations.ErrUnsupportedProvider, in.Provider)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return integrations.Integration{}, fmt.Errorf("%w: name is required", integrations.ErrInvalidConfig)
		}
		in.Name = name
		in.Slug = integrations.Slugify(name)
	}
	if req.Config != nil {
		if err := validateConfig(adapter, req.Config); err != nil {
			return integrations.Integration{}, err
		}
		in.Config = req.Config
	}
	if req.Webhook != nil {
		wh := *req.Webhook
		if wh.Secret == "" && in.Webhook != nil {
			wh.Secret = in.Webhook.Secret
		}
		in.Webhook = &wh
	}
	if req.Metadata != nil {
		in.Metadata = req.Metadata
	}

	if req.Status != nil {
		next, err := in.Status.Transition(*req.Status)
		if err != nil {
			return integrations.Integration{}, err
		}
		in.Status = next
	}

	var plain integrations.Credentials
	if req.Credentials != nil {
		plain = *req.Credentials
		plain.Encrypted = false
		plain.Envelope = nil
		if err := plain.Validate(); err != nil {
			return integrations.Integration{}, fmt.Errorf("%w: %v", integrations.ErrInvalidCredentials, err)
		}
		sealed, err := s.creds.Encrypt(plain)
		if err != nil {
			return integrations.Integration{}, err
		}
		if err := s.creds.StoreCredentials(ctx, in.ID, sealed); err != nil {
			return integrations.Integration{}, fmt.Errorf("store credentials: %w", err)
		}
		in.CredentialType = plain.Type
	}

	// Inactive integrations keep their new credentials but are not re-authenticated.
	retest := req.Credentials != nil || req.Config != nil
	if retest && in.Status != integrations.StatusInactive {
		if req.Credentials == nil {
			stored, err := s.creds.RetrieveCredentials(ctx, in.ID)
			if err != nil {
				return integrations.Integration{}, fmt.Errorf("load credentials: %w", err)
			}
			plain, err = s.creds.Decrypt(stored)
			if err != nil {
				return integrations.Integration{}, err
			}
		}
		auth := s.creds.ValidateCredentials(ctx, in.Provider, plain, in.Config)
		switch {
		case auth.Success && in.Status != integrations.StatusSyncing:
			in.Status = integrations.StatusActive
			in.LastError = ""
			in.ErrorCount = 0
			if in.NextSyncAt == nil {
				next := s.now().UTC().Add(in.SyncInterval())
				in.NextSyncAt = &next
			}
		case !auth.Success:
			in.LastError = auth.Error
			if in.Status == integrations.StatusActive {
				in.Status = integrations.StatusError
			}
		}
	}

	in.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIntegration(ctx, in); err != nil {
		return integrations.Integration{}, fmt.Errorf("update integration: %w", err)
	}
	return in, nil
}

// DeleteIntegration removes the integration with its credentials and pulled records.
func (s *Service) DeleteIntegration(ctx context.Context, id string) error {
	ev := monitor.Event{Action: "delete", IntegrationID: id}
	in, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		s.monitor.Error(ctx, ev, err)
		return err
	}
	ev.Provider = in.Provider

	if err := s.creds.DeleteCredentials(ctx, id); err != nil && !errors.Is(err, integrations.ErrNotFound) {
		s.monitor.Error(ctx, ev, err)
		return fmt.Errorf("delete credentials: %w", err)
	}
	if s.records != nil {
		if err := s.records.DeleteRecords(ctx, id); err != nil {
			s.monitor.Error(ctx, ev, err)
			return fmt.Errorf("delete records: %w", err)
		}
	}
	if err := s.store.DeleteIntegration(ctx, id); err != nil {
		s.monitor.Error(ctx, ev, err)
		return fmt.Errorf("delete integration: %w", err)
	}
	metrics.ForgetIntegration(id)
	ev.Message = "integration deleted"
	s.monitor.Action(ctx, ev)
	return nil
}

// GetMetrics summarizes integrations together with sync and error counts from the log.
func (s *Service) GetMetrics(ctx context.Context) (integrations.Metrics, error) {
	counts, err := s.store.CountIntegrations(ctx)
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "metrics"}, err)
		return integrations.Metrics{}, fmt.Errorf("count integrations: %w", err)
	}
	out := integrations.Metrics{Total: counts.Total, ByStatus: counts.ByStatus, ByProvider: counts.ByProvider}
	if s.logs == nil {
		return out, nil
	}
	since := s.now().UTC().Add(-24 * time.Hour)
	queries := []struct {
		dst    *int
		filter store.LogFilter
	}{
		{&out.Syncs, store.LogFilter{Action: "sync"}},
		{&out.SyncFailures, store.LogFilter{Action: "sync", Level: integrations.LogError}},
		{&out.Errors24h, store.LogFilter{Level: integrations.LogError, Since: &since}},
	}
	for _, q := range queries {
		n, err := s.logs.CountLogs(ctx, q.filter)
		if err != nil {
			s.monitor.Error(ctx, monitor.Event{Action: "metrics"}, err)
			return integrations.Metrics{}, fmt.Errorf("count logs: %w", err)
		}
		*q.dst = n
	}
	return out, nil
}

// GetLogs lists monitor entries, newest first. An empty integrationID lists every entry.
func (s *Service) GetLogs(ctx context.Context, integrationID string, page integrations.Page) (integrations.Paged[integrations.LogEntry], error) {
	page = page.Normalized()
	if s.logs == nil {
		return integrations.Paged[integrations.LogEntry]{Items: []integrations.LogEntry{}, Page: page.Page, PageSize: page.PageSize}, nil
	}
	out, err := s.logs.ListLogs(ctx, store.LogFilter{IntegrationID: integrationID}, page)
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "logs", IntegrationID: integrationID}, err)
		return integrations.Paged[integrations.LogEntry]{}, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

// GetAvailableProviders describes every registered adapter in registration order.
func (s *Service) GetAvailableProviders() []integrations.ProviderInfo {
	adapters := s.registry.All()
	out := make([]integrations.ProviderInfo, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, integrations.ProviderInfo{
			Descriptor:          a.Descriptor(),
			Capabilities:        integrations.Capabilities(a),
			RequiredCredentials: a.RequiredCredentials(),
		})
	}
	return out
}

func (s *Service) GetAdapter(provider string) (integrations.Adapter, bool) {
	return s.registry.Get(provider)
}

func (s *Service) RegisterAdapter(a integrations.Adapter) error {
	return s.registry.Register(a)
}

func validateConfig(adapter integrations.Adapter, cfg integrations.Config) error {
	res := adapter.ValidateConfig(cfg)
	if res.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", integrations.ErrInvalidConfig, strings.Join(res.Errors, "; "))
}

func newWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
