package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/lexdesk/lexdesk/internal/auth"
)

type staticVerifier string

func (v staticVerifier) Verify(token string) bool { return token == string(v) }

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{name: "empty", in: ""},
		{name: "scheme_only", in: "Bearer"},
		{name: "blank_token", in: "Bearer   "},
		{name: "ok", in: "Bearer ldk_abc", want: "ldk_abc", wantOK: true},
		{name: "lowercase_scheme", in: "bearer ldk_abc", want: "ldk_abc", wantOK: true},
		{name: "padded", in: "  Bearer  ldk_abc  ", want: "ldk_abc", wantOK: true},
		{name: "basic", in: "Basic dXNlcjpwYXNz"},
		{name: "two_tokens", in: "Bearer a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := BearerToken(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("BearerToken(%q)=%q,%v; want %q,%v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRequireToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		verifier Verifier
		header   string
		want     int
	}{
		{name: "valid", verifier: staticVerifier("ldk_ok"), header: "Bearer ldk_ok", want: http.StatusOK},
		{name: "wrong_token", verifier: staticVerifier("ldk_ok"), header: "Bearer ldk_bad", want: http.StatusUnauthorized},
		{name: "missing_header", verifier: staticVerifier("ldk_ok"), want: http.StatusUnauthorized},
		{name: "nil_verifier", header: "Bearer ldk_ok", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := echo.New()
			g := e.Group("/api", RequireToken(tt.verifier), RequireRole(auth.RoleAdmin))
			g.GET("/ping", func(c *echo.Context) error {
				p, ok := PrincipalFromContext(c)
				if !ok || p.Method != auth.MethodAPIToken {
					t.Errorf("principal=%+v,%v want api token principal", p, ok)
				}
				return c.NoContent(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status=%d want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("401 without WWW-Authenticate")
			}
		})
	}
}
