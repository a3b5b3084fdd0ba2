// Package integrations defines the provider adapter contract and the records shared by the
// registry, the credential service and the integration service.
package integrations

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// Feature is an entry of the fixed capability vocabulary adapters declare.
type Feature string

const (
	FeatureContactSync     Feature = "contact-sync"
	FeatureDocumentSync    Feature = "document-sync"
	FeatureEmailAutomation Feature = "email-automation"
	FeatureWebhookSupport  Feature = "webhook-support"
	FeatureRealTimeSync    Feature = "real-time-sync"
	FeatureBulkOperations  Feature = "bulk-operations"
	FeatureCustomFields    Feature = "custom-fields"
	FeatureFileUpload      Feature = "file-upload"
	FeatureESignature      Feature = "e-signature"
	FeatureCRMSync         Feature = "crm-sync"
)

var knownFeatures = []Feature{
	FeatureContactSync,
	FeatureDocumentSync,
	FeatureEmailAutomation,
	FeatureWebhookSupport,
	FeatureRealTimeSync,
	FeatureBulkOperations,
	FeatureCustomFields,
	FeatureFileUpload,
	FeatureESignature,
	FeatureCRMSync,
}

// Valid reports whether f belongs to the feature vocabulary.
func (f Feature) Valid() bool {
	return slices.Contains(knownFeatures, f)
}

// Descriptor identifies an adapter. It is not persisted.
type Descriptor struct {
	Provider string    `json:"provider"`
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Features []Feature `json:"features"`
}

// HasFeature reports whether the descriptor declares f.
func (d Descriptor) HasFeature(f Feature) bool {
	return slices.Contains(d.Features, f)
}

// Config is the provider-specific configuration object of an integration, stored as JSON.
type Config map[string]any

// Connection carries everything an adapter needs to act on behalf of one integration.
// Credentials are always plaintext here; they are decrypted right before the call.
type Connection struct {
	IntegrationID string
	Config        Config
	Credentials   Credentials
	Webhook       *WebhookConfig
	Records       RecordSink
}

// RecordSink receives pulled records and supplies local records for push syncs.
type RecordSink interface {
	UpsertRecord(ctx context.Context, integrationID string, rec Record) (created bool, err error)
	ListRecords(ctx context.Context, integrationID, entity string, since *time.Time, limit int) ([]Record, error)
}

// Adapter is the base contract every provider adapter implements. Operations that reach
// the vendor never return transport errors; failures land in the typed result.
type Adapter interface {
	Descriptor() Descriptor
	Authenticate(ctx context.Context, conn Connection) AuthResult
	Ping(ctx context.Context, cfg Config) HealthStatus
	GetStatus(ctx context.Context, cfg Config) Status
	ValidateConfig(cfg Config) ValidationResult
	RequiredCredentials() []CredentialRequirement
	Features() []Feature
}

// TokenRefresher is implemented by OAuth2 adapters.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, conn Connection) AuthResult
}

// Syncer is implemented by adapters that exchange entity batches with the vendor.
type Syncer interface {
	Sync(ctx context.Context, conn Connection, opts SyncOptions) SyncResult
}

// DataQuerier is implemented by adapters with entity-level read/write endpoints.
type DataQuerier interface {
	GetData(ctx context.Context, conn Connection, query DataQuery) DataResult
	SendData(ctx context.Context, conn Connection, records []Record, opts SendOptions) SendResult
}

// WebhookHandler is implemented by adapters that accept vendor callbacks.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, conn Connection, payload []byte, headers http.Header) WebhookResult
}

// Capability names an operation an adapter implements.
type Capability string

const (
	CapabilityAuthenticate   Capability = "authenticate"
	CapabilityRefreshToken   Capability = "refresh-token"
	CapabilityPing           Capability = "ping"
	CapabilityGetStatus      Capability = "get-status"
	CapabilitySync           Capability = "sync"
	CapabilityGetData        Capability = "get-data"
	CapabilitySendData       Capability = "send-data"
	CapabilityHandleWebhook  Capability = "handle-webhook"
	CapabilityValidateConfig Capability = "validate-config"
	CapabilityCredentials    Capability = "required-credentials"
)

// Capabilities lists the operations a implements, base contract first.
func Capabilities(a Adapter) []Capability {
	if a == nil {
		return nil
	}
	out := []Capability{
		CapabilityAuthenticate,
		CapabilityPing,
		CapabilityGetStatus,
		CapabilityValidateConfig,
		CapabilityCredentials,
	}
	if _, ok := a.(TokenRefresher); ok {
		out = append(out, CapabilityRefreshToken)
	}
	if _, ok := a.(Syncer); ok {
		out = append(out, CapabilitySync)
	}
	if _, ok := a.(DataQuerier); ok {
		out = append(out, CapabilityGetData, CapabilitySendData)
	}
	if _, ok := a.(WebhookHandler); ok {
		out = append(out, CapabilityHandleWebhook)
	}
	return out
}

// CredentialInput controls how a credential field is collected from a human.
type CredentialInput string

const (
	InputText     CredentialInput = "text"
	InputPassword CredentialInput = "password"
	InputTextarea CredentialInput = "textarea"
)

// CredentialRequirement declares one field a human must supply.
type CredentialRequirement struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Input    CredentialInput `json:"input"`
	Required bool            `json:"required"`
	Help     string          `json:"help,omitempty"`
}

// ValidationResult is the outcome of ValidateConfig. Warnings never make a config invalid.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// AddError records a structural problem and marks the result invalid.
func (v *ValidationResult) AddError(msg string) {
	v.Errors = append(v.Errors, msg)
	v.Valid = false
}

// AddWarning records a non-fatal problem.
func (v *ValidationResult) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// NewValidationResult returns a valid result with empty, non-nil slices.
func NewValidationResult() ValidationResult {
	return ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}
}

// CheckIntRange validates an optional integer key. Values outside [lo, hi] are warnings.
func (v *ValidationResult) CheckIntRange(cfg Config, key string, lo, hi int) {
	if _, present := cfg[key]; !present {
		return
	}
	n, ok := ConfigInt(cfg, key)
	if !ok {
		v.AddError(fmt.Sprintf("%s must be an integer", key))
		return
	}
	if n < lo || n > hi {
		v.AddWarning(fmt.Sprintf("%s should be between %d and %d (got %d)", key, lo, hi, n))
	}
}

// CheckMinInt validates an optional integer key. Values below lo are warnings.
func (v *ValidationResult) CheckMinInt(cfg Config, key string, lo int, why string) {
	if _, present := cfg[key]; !present {
		return
	}
	n, ok := ConfigInt(cfg, key)
	if !ok {
		v.AddError(fmt.Sprintf("%s must be an integer", key))
		return
	}
	if n < lo {
		v.AddWarning(fmt.Sprintf("%s below %d %s", key, lo, why))
	}
}
