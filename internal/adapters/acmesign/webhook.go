package acmesign

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		DocumentID string `json:"document_id"`
		TemplateID string `json:"template_id"`
		Status     string `json:"status"`
	} `json:"data"`
}

// HandleWebhook verifies X-Acme-Signature before reading the payload.
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
	docID := strings.TrimSpace(ev.Data.DocumentID)

	switch ev.Event {
	case "document.completed":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "sync", Entity: EntityDocuments, EntityID: docID})
		if a.archiver != nil && archiveEnabled(conn.Config) {
			out.Actions = append(out.Actions, integrations.WebhookAction{Type: "archive", Entity: EntityDocuments, EntityID: docID})
		}
	case "document.sent", "document.viewed", "document.signed":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "update_status", Entity: EntityDocuments, EntityID: docID})
	case "document.declined", "document.voided":
		out.Actions = append(out.Actions,
			integrations.WebhookAction{Type: "update_status", Entity: EntityDocuments, EntityID: docID},
			integrations.WebhookAction{Type: "notify", Entity: EntityDocuments, EntityID: docID},
		)
	case "template.updated":
		out.Actions = append(out.Actions, integrations.WebhookAction{Type: "sync", Entity: EntityTemplates, EntityID: strings.TrimSpace(ev.Data.TemplateID)})
	default:
		a.logger.Info("acme-esign webhook event ignored", "integration_id", conn.IntegrationID, "event", ev.Event)
	}
	return out
}
