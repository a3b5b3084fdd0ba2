package mailflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		ID         string `json:"id"`
		ListID     string `json:"list_id"`
		CampaignID string `json:"campaign_id"`
	} `json:"data"`
}

// HandleWebhook verifies the base64 X-Mailflow-Signature and maps list events to syncs.
func (a *Adapter) HandleWebhook(_ context.Context, conn integrations.Connection, payload []byte, headers http.Header) integrations.WebhookResult {
	secret := ""
	if conn.Webhook != nil {
		secret = conn.Webhook.Secret
	}
	if err := vendorhttp.VerifySignature(headers, SignatureHeader, secret, payload, vendorhttp.SignatureBase64); err != nil {
		if errors.Is(err, integrations.ErrMissingWebhookSignature) {
			return integrations.WebhookFailure(integrations.MsgMissingWebhookSignature)
		}
		return integrations.WebhookFailure(integrations.MsgInvalidWebhookSignature)
	}

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return integrations.WebhookFailure("Invalid webhook payload")
	}
	out := integrations.WebhookResult{Processed: true, Event: ev.Type, Actions: []integrations.WebhookAction{}}
	switch ev.Type {
	case "subscribe", "profile", "upemail":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "sync", Entity: EntityContacts, EntityID: ev.Data.ID})
	case "unsubscribe", "cleaned":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "update_status", Entity: EntityContacts, EntityID: ev.Data.ID})
	case "campaign":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "sync", Entity: EntityCampaigns, EntityID: ev.Data.CampaignID})
	default:
		a.logger.Info("mailflow webhook event ignored", "integration_id", conn.IntegrationID, "event", ev.Type)
	}
	return out
}
