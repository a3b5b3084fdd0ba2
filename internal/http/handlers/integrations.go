package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/service"
)

func (h *Handlers) HandleHealthz(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *Handlers) HandleListIntegrations(c *echo.Context) error {
	out, err := h.Svc.GetIntegrations(c.Request().Context(), parsePage(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleGetIntegration(c *echo.Context) error {
	in, err := h.Svc.GetIntegration(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handlers) HandleCreateIntegration(c *echo.Context) error {
	var req service.CreateRequest
	if err := decodeJSON(c, &req, false); err != nil {
		return err
	}
	in, err := h.Svc.CreateIntegration(c.Request().Context(), req)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Location", "/api/v1/integrations/"+in.ID)
	return c.JSON(http.StatusCreated, in)
}

func (h *Handlers) HandleUpdateIntegration(c *echo.Context) error {
	var req service.UpdateRequest
	if err := decodeJSON(c, &req, false); err != nil {
		return err
	}
	in, err := h.Svc.UpdateIntegration(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handlers) HandleDeleteIntegration(c *echo.Context) error {
	if err := h.Svc.DeleteIntegration(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleTestConnection always answers 200; the outcome is in the body.
func (h *Handlers) HandleTestConnection(c *echo.Context) error {
	var req service.TestConnectionRequest
	if err := decodeJSON(c, &req, false); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.Svc.TestConnection(c.Request().Context(), req))
}

// HandleSyncIntegration runs a sync inline. An aborted run answers 502 with the partial
// result so callers can still see what was written.
func (h *Handlers) HandleSyncIntegration(c *echo.Context) error {
	var opts integrations.SyncOptions
	if err := decodeJSON(c, &opts, true); err != nil {
		return err
	}
	res, err := h.Svc.SyncIntegration(c.Request().Context(), c.Param("id"), opts)
	if errors.Is(err, service.ErrSyncFailed) {
		return c.JSON(http.StatusBadGateway, res)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) HandleIntegrationHealth(c *echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	// The health probe reports a missing integration as an error status; the API wants a 404.
	if _, err := h.Svc.GetIntegration(ctx, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.Svc.GetIntegrationHealth(ctx, id))
}

func (h *Handlers) HandleIntegrationLogs(c *echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.Svc.GetIntegration(ctx, id); err != nil {
		return err
	}
	out, err := h.Svc.GetLogs(ctx, id, parsePage(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
