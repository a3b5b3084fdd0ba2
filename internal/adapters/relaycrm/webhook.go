package relaycrm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

var objectEntities = map[string]string{
	"contact": EntityContacts,
	"company": EntityCompanies,
	"deal":    EntityDeals,
}

type webhookEvent struct {
	Event    string `json:"event"`
	ObjectID string `json:"object_id"`
}

// HandleWebhook verifies "X-Relay-Signature: sha256=<hex>" and maps object events to actions.
func (a *Adapter) HandleWebhook(_ context.Context, conn integrations.Connection, payload []byte, headers http.Header) integrations.WebhookResult {
	secret := ""
	if conn.Webhook != nil {
		secret = conn.Webhook.Secret
	}
	if err := vendorhttp.VerifySignature(headers, SignatureHeader, secret, payload, vendorhttp.SignatureHex); err != nil {
		if errors.Is(err, integrations.ErrMissingWebhookSignature) {
			return integrations.WebhookFailure(integrations.MsgMissingWebhookSignature)
		}
		return integrations.WebhookFailure(integrations.MsgInvalidWebhookSignature)
	}

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return integrations.WebhookFailure("Invalid webhook payload")
	}
	out := integrations.WebhookResult{Processed: true, Event: ev.Event, Actions: []integrations.WebhookAction{}}

	object, verb, ok := strings.Cut(ev.Event, ".")
	entity, known := objectEntities[object]
	switch {
	case !ok || !known:
		a.logger.Info("relay-crm webhook event ignored", "integration_id", conn.IntegrationID, "event", ev.Event)
	case verb == "created" || verb == "updated" || verb == "merged":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "sync", Entity: entity, EntityID: ev.ObjectID})
	case verb == "deleted":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "delete", Entity: entity, EntityID: ev.ObjectID})
	default:
		a.logger.Info("relay-crm webhook event ignored", "integration_id", conn.IntegrationID, "event", ev.Event)
	}
	return out
}
