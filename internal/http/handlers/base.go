// Package handlers contains the JSON API and webhook ingress handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/service"
)

const (
	// ContextKeyRequestID stores the request id (X-Request-ID) for logging and client error references.
	ContextKeyRequestID = "request_id"

	// InternalErrorCode is a stable error code safe to return to clients.
	InternalErrorCode = "INTERNAL_ERROR"

	maxBodyBytes = 1 << 20
)

// ErrBadRequest marks a malformed request that never reached the service.
var ErrBadRequest = errors.New("bad request")

// Handlers groups all HTTP handlers and shared dependencies.
type Handlers struct {
	Svc *service.Service
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// DomainError maps service sentinels to a status and a client-safe code. ok is false for
// errors whose text must not reach clients.
func DomainError(err error) (status int, code string, ok bool) {
	switch {
	case errors.Is(err, integrations.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", true
	case errors.Is(err, integrations.ErrConflict):
		return http.StatusConflict, "CONFLICT", true
	case errors.Is(err, integrations.ErrSyncInProgress):
		return http.StatusConflict, "SYNC_IN_PROGRESS", true
	case errors.Is(err, integrations.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", true
	case errors.Is(err, integrations.ErrIntegrationInactive):
		return http.StatusConflict, "INTEGRATION_INACTIVE", true
	case errors.Is(err, integrations.ErrInvalidConfig):
		return http.StatusUnprocessableEntity, "INVALID_CONFIG", true
	case errors.Is(err, integrations.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity, "INVALID_CREDENTIALS", true
	case errors.Is(err, integrations.ErrUnsupportedProvider):
		return http.StatusBadRequest, "UNSUPPORTED_PROVIDER", true
	case errors.Is(err, integrations.ErrCapabilityNotSupported):
		return http.StatusBadRequest, "NOT_SUPPORTED", true
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "BAD_REQUEST", true
	case errors.Is(err, service.ErrSyncFailed):
		return http.StatusBadGateway, "SYNC_FAILED", true
	}
	return http.StatusInternalServerError, InternalErrorCode, false
}

// RenderError logs err and returns a generic 500 that only carries the request reference.
func (h *Handlers) RenderError(c *echo.Context, err error) error {
	requestID := RequestID(c)
	path := ""
	if req := c.Request(); req != nil && req.URL != nil {
		path = req.URL.Path
	}
	method := ""
	if req := c.Request(); req != nil {
		method = req.Method
	}
	c.Logger().Error("http error",
		"request_id", requestID,
		"method", method,
		"path", path,
		"ip", c.RealIP(),
		"error", err,
	)

	msg := "Internal server error."
	if requestID != "" {
		msg = fmt.Sprintf("%s Reference: %s.", msg, requestID)
	}
	msg = fmt.Sprintf("%s Code: %s.", msg, InternalErrorCode)
	return c.JSON(http.StatusInternalServerError, ErrorBody{Error: msg, Code: InternalErrorCode, RequestID: requestID})
}

// RenderStatus writes a bare status response using the standard status text.
func RenderStatus(c *echo.Context, status int) error {
	text := http.StatusText(status)
	msg := text
	if status == http.StatusNotFound {
		msg = "404 page not found"
	}
	code := strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
	return c.JSON(status, ErrorBody{Error: msg, Code: code, RequestID: RequestID(c)})
}

func RequestID(c *echo.Context) string {
	id, _ := c.Get(ContextKeyRequestID).(string)
	return id
}

// decodeJSON reads a size-limited JSON body into v. With allowEmpty an empty body leaves
// v untouched.
func decodeJSON(c *echo.Context, v any, allowEmpty bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrBadRequest, err)
	}
	if strings.TrimSpace(string(body)) == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: request body is required", ErrBadRequest)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: body is not valid JSON", ErrBadRequest)
	}
	return nil
}

func parsePage(c *echo.Context) integrations.Page {
	var p integrations.Page
	if raw := strings.TrimSpace(c.QueryParam("page")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			p.Page = parsed
		}
	}
	if raw := strings.TrimSpace(c.QueryParam("page_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			p.PageSize = parsed
		}
	}
	return p.Normalized()
}
