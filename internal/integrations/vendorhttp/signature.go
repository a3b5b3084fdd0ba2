package vendorhttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/lexdesk/lexdesk/internal/integrations"
)

// SignatureEncoding selects how a vendor encodes its HMAC digest.
type SignatureEncoding int

const (
	SignatureHex SignatureEncoding = iota
	SignatureBase64
)

// SignPayload computes the HMAC-SHA256 of payload with secret in the given encoding.
func SignPayload(secret string, payload []byte, enc SignatureEncoding) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sum := mac.Sum(nil)
	if enc == SignatureBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// VerifySignature checks the signature carried in header against payload. The header value
// may carry a "sha256=" prefix. A missing header is reported before anything else.
func VerifySignature(headers http.Header, header, secret string, payload []byte, enc SignatureEncoding) error {
	got := strings.TrimSpace(headers.Get(header))
	if got == "" {
		return integrations.ErrMissingWebhookSignature
	}
	got = strings.TrimPrefix(got, "sha256=")
	if enc == SignatureHex {
		// Hex digits are case-insensitive; base64 is not.
		got = strings.ToLower(got)
	}
	if strings.TrimSpace(secret) == "" {
		return integrations.ErrInvalidWebhookSignature
	}
	want := SignPayload(secret, payload, enc)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return integrations.ErrInvalidWebhookSignature
	}
	return nil
}
