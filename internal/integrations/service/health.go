package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
	"github.com/lexdesk/lexdesk/internal/integrations/registry"
	"github.com/lexdesk/lexdesk/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// TestConnectionRequest tests either ad-hoc credentials or, when IntegrationID is set and
// Credentials is empty, the stored credentials of that integration.
type TestConnectionRequest struct {
	IntegrationID string                   `json:"integration_id,omitempty"`
	Provider      string                   `json:"provider"`
	Config        integrations.Config      `json:"config"`
	Credentials   integrations.Credentials `json:"credentials"`
}

// TestConnectionResponse is always returned, never an error.
type TestConnectionResponse struct {
	Success      bool                   `json:"success"`
	Message      string                 `json:"message"`
	Features     []integrations.Feature `json:"features"`
	ResponseTime time.Duration          `json:"response_time"`
	Error        string                 `json:"error,omitempty"`
}

// TestConnection authenticates and then pings. It never changes the persisted status.
func (s *Service) TestConnection(ctx context.Context, req TestConnectionRequest) TestConnectionResponse {
	started := s.now()
	provider := registry.NormalizeProvider(req.Provider)
	ev := monitor.Event{Action: "test_connection", IntegrationID: req.IntegrationID, Provider: provider}
	fail := func(msg string, err error) TestConnectionResponse {
		ev.Duration = s.now().Sub(started)
		s.monitor.Error(ctx, ev, err)
		return TestConnectionResponse{Message: msg, Features: []integrations.Feature{}, ResponseTime: ev.Duration, Error: err.Error()}
	}

	cfg := req.Config
	plain := req.Credentials
	if req.IntegrationID != "" {
		in, err := s.store.GetIntegration(ctx, req.IntegrationID)
		if err != nil {
			return fail("Integration not found", err)
		}
		if provider == "" {
			provider = in.Provider
			ev.Provider = provider
		}
		if cfg == nil {
			cfg = in.Config
		}
		if plain.Type == "" {
			sealed, err := s.creds.GetValidCredentials(ctx, in.ID, in.Provider, in.Config)
			if err != nil {
				return fail("Stored credentials are unusable", err)
			}
			if plain, err = s.creds.Decrypt(sealed); err != nil {
				return fail("Stored credentials are unusable", err)
			}
		}
	}
	if cfg == nil {
		cfg = integrations.Config{}
	}

	adapter, ok := s.registry.Get(provider)
	if !ok {
		return fail("Provider not supported", fmt.Errorf("%w: %q", integrations.ErrUnsupportedProvider, provider))
	}
	if err := validateConfig(adapter, cfg); err != nil {
		return fail("Configuration is invalid", err)
	}

	auth := s.creds.ValidateCredentials(ctx, provider, plain, cfg)
	if !auth.Success {
		return fail("Authentication failed", fmt.Errorf("%w: %s", integrations.ErrInvalidCredentials, auth.Error))
	}

	health := adapter.Ping(ctx, cfg)
	ev.Duration = s.now().Sub(started)
	out := TestConnectionResponse{
		Success:      health.Status != integrations.HealthError,
		Features:     adapter.Features(),
		ResponseTime: health.ResponseTime,
		Error:        health.Error,
	}
	if out.Success {
		out.Message = "Connected to " + adapter.Descriptor().Name
		ev.Message = out.Message
		s.monitor.Action(ctx, ev)
	} else {
		out.Message = "Authenticated but the health check failed"
		s.monitor.Error(ctx, ev, fmt.Errorf("ping: %s", health.Error))
	}
	return out
}

// GetIntegrationHealth pings the integration's provider. Failures become an error status.
func (s *Service) GetIntegrationHealth(ctx context.Context, id string) integrations.HealthStatus {
	in, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "health", IntegrationID: id}, err)
		return integrations.ErrorHealth(s.now(), "integration not found")
	}
	return s.probe(ctx, in)
}

func (s *Service) probe(ctx context.Context, in integrations.Integration) integrations.HealthStatus {
	ev := monitor.Event{Action: "health", IntegrationID: in.ID, Provider: in.Provider}
	adapter, ok := s.registry.Get(in.Provider)
	if !ok {
		err := fmt.Errorf("%w: %q", integrations.ErrUnsupportedProvider, in.Provider)
		s.monitor.Error(ctx, ev, err)
		metrics.IntegrationHealth.WithLabelValues(in.Provider, in.ID).Set(0)
		return integrations.ErrorHealth(s.now(), err.Error())
	}
	h := adapter.Ping(ctx, in.Config)
	ev.Duration = h.ResponseTime
	metrics.IntegrationHealth.WithLabelValues(in.Provider, in.ID).Set(healthValue(h.Status))
	if h.Status == integrations.HealthError {
		s.monitor.Error(ctx, ev, fmt.Errorf("health check: %s", h.Error))
	} else {
		ev.Message = "health " + string(h.Status)
		s.monitor.Action(ctx, ev)
	}
	return h
}

// HealthReport is one entry of a health sweep.
type HealthReport struct {
	IntegrationID string                    `json:"integration_id"`
	Name          string                    `json:"name"`
	Provider      string                    `json:"provider"`
	Health        integrations.HealthStatus `json:"health"`
}

// HealthAll probes every active or errored integration with bounded concurrency.
func (s *Service) HealthAll(ctx context.Context) ([]HealthReport, error) {
	list, err := s.store.ListActive(ctx)
	if err != nil {
		s.monitor.Error(ctx, monitor.Event{Action: "health"}, err)
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	out := make([]HealthReport, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.healthWorkers)
	for i, in := range list {
		g.Go(func() error {
			out[i] = HealthReport{IntegrationID: in.ID, Name: in.Name, Provider: in.Provider, Health: s.probe(gctx, in)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func healthValue(h integrations.HealthState) float64 {
	switch h {
	case integrations.HealthHealthy:
		return 1
	case integrations.HealthWarning:
		return 0.5
	default:
		return 0
	}
}
