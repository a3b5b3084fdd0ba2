package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
	"github.com/lexdesk/lexdesk/internal/metrics"
)

// HandleWebhook forwards a vendor callback to the integration's adapter. A delivery the
// adapter rejects (bad signature, bad payload) is logged and returned in the result; only
// lookup failures are returned as errors.
func (s *Service) HandleWebhook(ctx context.Context, id string, payload []byte, headers http.Header) (integrations.WebhookResult, error) {
	started := s.now()
	ev := monitor.Event{Action: "webhook", IntegrationID: id}
	fail := func(err error) (integrations.WebhookResult, error) {
		ev.Duration = s.now().Sub(started)
		s.monitor.Error(ctx, ev, err)
		return integrations.WebhookResult{}, err
	}

	in, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		return fail(err)
	}
	ev.Provider = in.Provider
	adapter, ok := s.registry.Get(in.Provider)
	if !ok {
		return fail(fmt.Errorf("%w: %q", integrations.ErrUnsupportedProvider, in.Provider))
	}
	handler, ok := adapter.(integrations.WebhookHandler)
	if !ok {
		return fail(fmt.Errorf("%w: %s does not accept webhooks", integrations.ErrCapabilityNotSupported, in.Provider))
	}
	if in.Status == integrations.StatusInactive {
		return fail(fmt.Errorf("%w: %s", integrations.ErrIntegrationInactive, id))
	}

	conn := integrations.Connection{IntegrationID: in.ID, Config: in.Config, Webhook: in.Webhook, Records: s.records}
	// Signature checks only need the webhook secret; credentials are optional here.
	if sealed, err := s.creds.RetrieveCredentials(ctx, in.ID); err == nil {
		if plain, err := s.creds.Decrypt(sealed); err == nil {
			conn.Credentials = plain
		}
	} else if !errors.Is(err, integrations.ErrNotFound) {
		s.logger.Warn("webhook credentials unavailable", "integration_id", in.ID, "err", err)
	}

	res := handler.HandleWebhook(ctx, conn, payload, headers)
	ev.Duration = s.now().Sub(started)
	metrics.WebhookEventsTotal.WithLabelValues(in.Provider, strconv.FormatBool(res.Processed)).Inc()
	if !res.Processed {
		msg := res.Error
		if msg == "" {
			msg = "webhook rejected"
		}
		s.monitor.Error(ctx, ev, errors.New(msg))
		return res, nil
	}

	actions := make([]string, 0, len(res.Actions))
	for _, a := range res.Actions {
		actions = append(actions, a.Type+":"+a.Entity)
	}
	ev.Message = "webhook " + res.Event
	ev.Details = map[string]any{"event": res.Event, "actions": actions}
	s.monitor.Action(ctx, ev)
	return res, nil
}
