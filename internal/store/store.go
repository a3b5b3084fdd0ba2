// Package store defines the persistence ports used by the integration core. Implementations
// live in the memory, postgres and vaultkv subpackages.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
)

// IntegrationStore persists integration records. Lookups of unknown ids return an error
// wrapping integrations.ErrNotFound.
type IntegrationStore interface {
	ListIntegrations(ctx context.Context, page integrations.Page) (integrations.Paged[integrations.Integration], error)
	GetIntegration(ctx context.Context, id string) (integrations.Integration, error)
	CreateIntegration(ctx context.Context, in integrations.Integration) error
	UpdateIntegration(ctx context.Context, in integrations.Integration) error
	DeleteIntegration(ctx context.Context, id string) error
	// ListActive returns every integration in the active or error state.
	ListActive(ctx context.Context) ([]integrations.Integration, error)
	// ListDue returns active integrations whose next sync is unset or not after now.
	ListDue(ctx context.Context, now time.Time) ([]integrations.Integration, error)
	CountIntegrations(ctx context.Context) (Counts, error)
}

// Counts aggregates integrations by status and provider.
type Counts struct {
	Total      int
	ByStatus   map[integrations.Status]int
	ByProvider map[string]int
}

// CredentialStore persists encrypted credentials keyed by integration id.
type CredentialStore interface {
	StoreCredentials(ctx context.Context, integrationID string, creds integrations.Credentials) error
	RetrieveCredentials(ctx context.Context, integrationID string) (integrations.Credentials, error)
	DeleteCredentials(ctx context.Context, integrationID string) error
}

// LogFilter narrows log queries. Zero values match everything.
type LogFilter struct {
	IntegrationID string
	Action        string
	Level         integrations.LogLevel
	Since         *time.Time
}

// LogStore persists monitor entries, newest first on read.
type LogStore interface {
	AppendLog(ctx context.Context, entry integrations.LogEntry) error
	ListLogs(ctx context.Context, filter LogFilter, page integrations.Page) (integrations.Paged[integrations.LogEntry], error)
	CountLogs(ctx context.Context, filter LogFilter) (int, error)
}

// RecordStore holds records pulled from vendors.
type RecordStore interface {
	integrations.RecordSink
	DeleteRecords(ctx context.Context, integrationID string) error
}

// CheckSealed rejects credentials that are not encrypted or are malformed.
func CheckSealed(creds integrations.Credentials) error {
	if !creds.Encrypted {
		return integrations.ErrPlaintextCredentials
	}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", integrations.ErrInvalidCredentials, err)
	}
	return nil
}

// NotFound wraps integrations.ErrNotFound with the kind and id that were missing.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, integrations.ErrNotFound)
}
