package httpapp

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/lexdesk/lexdesk/internal/auth"
	"github.com/lexdesk/lexdesk/internal/http/authn"
	"github.com/lexdesk/lexdesk/internal/http/handlers"
	"github.com/lexdesk/lexdesk/internal/integrations/service"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *handlers.Handlers
	e *echo.Echo
}

// NewEchoServer builds the API. A nil verifier leaves every /api route answering 401.
func NewEchoServer(svc *service.Service, verifier authn.Verifier, logger *slog.Logger) *EchoServer {
	e := echo.New()
	if logger != nil {
		e.Logger = logger
	}
	es := &EchoServer{h: &handlers.Handlers{Svc: svc}, e: e}
	e.HTTPErrorHandler = es.httpErrorHandler
	e.Use(requestID, middleware.Recover())
	es.registerRoutes(verifier)
	return es
}

func (es *EchoServer) registerRoutes(verifier authn.Verifier) {
	es.e.GET("/healthz", es.h.HandleHealthz)
	es.e.POST("/webhooks/:id", es.h.HandleWebhook)

	api := es.e.Group("/api/v1", authn.RequireToken(verifier), authn.RequireRole(auth.RoleAdmin))
	api.GET("/integrations", es.h.HandleListIntegrations)
	api.POST("/integrations", es.h.HandleCreateIntegration)
	api.POST("/integrations/test", es.h.HandleTestConnection)
	api.GET("/integrations/:id", es.h.HandleGetIntegration)
	api.PATCH("/integrations/:id", es.h.HandleUpdateIntegration)
	api.DELETE("/integrations/:id", es.h.HandleDeleteIntegration)
	api.POST("/integrations/:id/sync", es.h.HandleSyncIntegration)
	api.GET("/integrations/:id/health", es.h.HandleIntegrationHealth)
	api.GET("/integrations/:id/logs", es.h.HandleIntegrationLogs)
	api.GET("/logs", es.h.HandleLogs)
	api.GET("/metrics", es.h.HandleMetrics)
	api.GET("/providers", es.h.HandleProviders)
}

// Handler exposes the router for an http.Server.
func (es *EchoServer) Handler() http.Handler {
	return es.e
}

// requestID keeps a sane inbound X-Request-ID or mints one.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(headerRequestID))
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(handlers.ContextKeyRequestID, id)
		c.Response().Header().Set(headerRequestID, id)
		return next(c)
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}

// httpErrorHandler shows domain error messages, which are written for clients, and hides
// everything else behind the status text or the generic internal error.
func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	if err == nil {
		return
	}
	if status, code, ok := handlers.DomainError(err); ok {
		_ = c.JSON(status, handlers.ErrorBody{Error: err.Error(), Code: code, RequestID: handlers.RequestID(c)})
		return
	}
	status := httpStatusFromError(err)
	if status >= http.StatusInternalServerError {
		_ = es.h.RenderError(c, err)
		return
	}
	_ = handlers.RenderStatus(c, status)
}

func httpStatusFromError(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		if code := coder.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}
