// Package auth hashes and verifies the API bearer tokens used by CRM clients.
package auth

const (
	RoleAdmin = "admin"

	MethodAPIToken = "api_token"
)

type Principal struct {
	Subject string
	Role    string
	Method  string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// TokenPrincipal is the identity carried by a verified API token.
func TokenPrincipal() Principal {
	return Principal{Subject: "api-token", Role: RoleAdmin, Method: MethodAPIToken}
}
