package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
)

func (h *Handlers) HandleProviders(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"providers": h.Svc.GetAvailableProviders()})
}

func (h *Handlers) HandleMetrics(c *echo.Context) error {
	m, err := h.Svc.GetMetrics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// HandleLogs lists monitor entries across all integrations, newest first.
func (h *Handlers) HandleLogs(c *echo.Context) error {
	out, err := h.Svc.GetLogs(c.Request().Context(), c.QueryParam("integration_id"), parsePage(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
