package integrations

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Integration is a configured connection to one external provider. Secret material is
// kept in the credentials sub-resource, never on the record itself.
type Integration struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Provider       string         `json:"provider"`
	Status         Status         `json:"status"`
	Config         Config         `json:"config"`
	CredentialType CredentialType `json:"credential_type"`
	Webhook        *WebhookConfig `json:"webhook,omitempty"`
	Features       []Feature      `json:"features"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LastSyncAt     *time.Time     `json:"last_sync_at,omitempty"`
	NextSyncAt     *time.Time     `json:"next_sync_at,omitempty"`
	ErrorCount     int            `json:"error_count"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DefaultSyncInterval applies when the config has no sync_interval_minutes.
const DefaultSyncInterval = 60 * time.Minute

// SyncInterval reads sync_interval_minutes from the config.
func (i Integration) SyncInterval() time.Duration {
	if n, ok := ConfigInt(i.Config, "sync_interval_minutes"); ok && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return DefaultSyncInterval
}

// Redacted returns a copy safe for API responses: the webhook secret is removed.
func (i Integration) Redacted() Integration {
	out := i
	if i.Webhook != nil {
		wh := *i.Webhook
		if wh.Secret != "" {
			wh.Secret = "********"
		}
		out.Webhook = &wh
	}
	return out
}

// ConfigInt reads an integer-valued config key; JSON numbers and numeric strings are accepted.
func ConfigInt(cfg Config, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ConfigString reads a string config key, trimmed.
func ConfigString(cfg Config, key string) string {
	if v, ok := cfg[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ConfigBool reads a boolean config key. Strings "true" and "1" count as true.
func ConfigBool(cfg Config, key string) (value, ok bool) {
	switch v := cfg[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, true
		case "false", "0", "":
			return false, true
		}
	case nil:
		return false, true
	}
	return false, false
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into a URL-safe slug.
func Slugify(name string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page is a 1-based pagination request.
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Normalized clamps the page to sane bounds.
func (p Page) Normalized() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	p = p.Normalized()
	return (p.Page - 1) * p.PageSize
}

// Paged is one page of results.
type Paged[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// LogLevel classifies monitor entries.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogError LogLevel = "error"
)

// LogEntry records the outcome of one service operation.
type LogEntry struct {
	ID            string         `json:"id"`
	IntegrationID string         `json:"integration_id,omitempty"`
	Action        string         `json:"action"`
	Level         LogLevel       `json:"level"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Metrics summarizes integrations for dashboards.
type Metrics struct {
	Total        int            `json:"total"`
	ByStatus     map[Status]int `json:"by_status"`
	ByProvider   map[string]int `json:"by_provider"`
	Syncs        int            `json:"syncs"`
	SyncFailures int            `json:"sync_failures"`
	Errors24h    int            `json:"errors_24h"`
}

// ProviderInfo describes a registered provider for clients building setup forms.
type ProviderInfo struct {
	Descriptor
	Capabilities        []Capability            `json:"capabilities"`
	RequiredCredentials []CredentialRequirement `json:"required_credentials"`
}
