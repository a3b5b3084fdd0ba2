package authn

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/lexdesk/lexdesk/internal/auth"
)

const ContextKeyPrincipal = "auth_principal"

// Verifier checks a presented bearer token.
type Verifier interface {
	Verify(token string) bool
}

func PrincipalFromContext(c *echo.Context) (auth.Principal, bool) {
	p, ok := c.Get(ContextKeyPrincipal).(auth.Principal)
	return p, ok
}

// RequireToken rejects requests without a valid bearer token. A nil verifier rejects
// everything, which is how the API stays closed when API_TOKEN_HASH is unset.
func RequireToken(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token, ok := BearerToken(c.Request().Header.Get("Authorization"))
			if !ok || v == nil || !v.Verify(token) {
				return handleUnauth(c)
			}
			c.Set(ContextKeyPrincipal, auth.TokenPrincipal())
			return next(c)
		}
	}
}

func RequireRole(role string) echo.MiddlewareFunc {
	role = strings.ToLower(strings.TrimSpace(role))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			p, ok := PrincipalFromContext(c)
			if !ok {
				return handleUnauth(c)
			}
			if strings.ToLower(strings.TrimSpace(p.Role)) != role {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

func handleUnauth(c *echo.Context) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="lexdesk"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}
