package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/lexdesk/lexdesk/internal/integrations"
)

// HandleWebhook is the unauthenticated vendor ingress. Adapters verify signatures, so a
// rejected delivery is answered with a 4xx and the adapter's message, never a 5xx.
func (h *Handlers) HandleWebhook(c *echo.Context) error {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, integrations.WebhookFailure("payload too large"))
		}
		return c.JSON(http.StatusBadRequest, integrations.WebhookFailure("unreadable payload"))
	}

	res, err := h.Svc.HandleWebhook(c.Request().Context(), c.Param("id"), payload, c.Request().Header)
	if err != nil {
		status, _, ok := DomainError(err)
		if !ok {
			return h.RenderError(c, err)
		}
		return c.JSON(status, integrations.WebhookFailure(http.StatusText(status)))
	}
	if res.Actions == nil {
		res.Actions = []integrations.WebhookAction{}
	}
	return c.JSON(webhookStatus(res), res)
}

func webhookStatus(res integrations.WebhookResult) int {
	switch {
	case res.Processed:
		return http.StatusOK
	case res.Error == integrations.MsgMissingWebhookSignature, res.Error == integrations.MsgInvalidWebhookSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusUnprocessableEntity
	}
}
