package acmesign

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

const (
	keyIntegrationKey = "integration_key"
	keyUserID         = "user_id"
	keyPrivateKey     = "private_key"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour
	grantScope     = "signature impersonation"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Authenticate exchanges the credentials for an authorization header and reads the
// configured account with it.
func (a *Adapter) Authenticate(ctx context.Context, conn integrations.Connection) integrations.AuthResult {
	c, err := a.client(conn.Config)
	if err != nil {
		return integrations.AuthFailure("%v", err)
	}
	id := accountID(conn.Config)
	if id == "" {
		return integrations.AuthFailure("account_id is required")
	}
	header, tok, err := a.authorize(ctx, c, conn.Credentials)
	if err != nil {
		return integrations.AuthFailure("%v", err)
	}
	var acct account
	if err := c.JSON(ctx, vendorhttp.Request{Path: "/v1/accounts/" + url.PathEscape(id), Header: header}, &acct); err != nil {
		return integrations.AuthFailure("%v", err)
	}
	if acct.ID != "" && acct.ID != id {
		return integrations.AuthFailure("%s returned account %q, want %q", vendor, acct.ID, id)
	}
	out := integrations.AuthResult{Success: true}
	if tok != nil {
		out.Token = tok.AccessToken
		out.ExpiresIn = tok.ExpiresIn
		out.Scopes = strings.Fields(grantScope)
	}
	return out
}

// authorize returns the Authorization header for the credentials. JWT credentials go
// through the JWT bearer grant first; the token response is returned alongside.
func (a *Adapter) authorize(ctx context.Context, c *vendorhttp.Client, creds integrations.Credentials) (http.Header, *tokenResponse, error) {
	switch creds.Type {
	case integrations.CredentialAPIKey, "":
		key := creds.Get(integrations.KeyAPIKey)
		if key == "" {
			return nil, nil, errors.New("api_key is required")
		}
		h := make(http.Header)
		h.Set("Authorization", "ApiKey "+key)
		return h, nil, nil
	case integrations.CredentialJWT:
		tok, err := a.exchangeJWT(ctx, c, creds)
		if err != nil {
			return nil, nil, err
		}
		return vendorhttp.BearerHeader(tok.AccessToken), tok, nil
	case integrations.CredentialBearerToken, integrations.CredentialOAuth2:
		token := creds.Get(integrations.KeyAccessToken)
		if token == "" {
			token = creds.Get(integrations.KeyToken)
		}
		if token == "" {
			return nil, nil, errors.New("access_token is required")
		}
		return vendorhttp.BearerHeader(token), nil, nil
	default:
		return nil, nil, fmt.Errorf("%s does not accept %s credentials", vendor, creds.Type)
	}
}

func (a *Adapter) exchangeJWT(ctx context.Context, c *vendorhttp.Client, creds integrations.Credentials) (*tokenResponse, error) {
	var missing []string
	for _, k := range []string{keyIntegrationKey, keyUserID, keyPrivateKey} {
		if creds.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("jwt credentials incomplete: missing %s", strings.Join(missing, ", "))
	}

	assertion, err := a.signAssertion(c.BaseURL, creds)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)
	header := make(http.Header)
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if err := c.JSON(ctx, vendorhttp.Request{
		Method: http.MethodPost,
		Path:   "/oauth/token",
		Header: header,
		Body:   []byte(form.Encode()),
	}, &tok); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, errors.New("token response did not include access_token")
	}
	return &tok, nil
}

func (a *Adapter) signAssertion(baseURL string, creds integrations.Credentials) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.Data[keyPrivateKey]))
	if err != nil {
		return "", errors.New("private_key is not a valid PEM encoded RSA key")
	}
	audience := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		audience = u.Host
	}
	now := a.now()
	claims := struct {
		Scope string `json:"scope"`
		jwt.RegisteredClaims
	}{
		Scope: grantScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    creds.Get(keyIntegrationKey),
			Subject:   creds.Get(keyUserID),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt assertion: %w", err)
	}
	return signed, nil
}
