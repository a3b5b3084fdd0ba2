package integrations

import (
	"encoding/json"
	"errors"
	"time"
)

// HealthState is the coarse outcome of a health probe.
type HealthState string

const (
	HealthHealthy HealthState = "healthy"
	HealthWarning HealthState = "warning"
	HealthError   HealthState = "error"
)

// HealthStatus is computed on every probe and never persisted.
type HealthStatus struct {
	Status       HealthState   `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	CheckedAt    time.Time     `json:"checked_at"`
	Error        string        `json:"error,omitempty"`
}

// ErrorHealth synthesizes an error health status.
func ErrorHealth(now time.Time, msg string) HealthStatus {
	return HealthStatus{Status: HealthError, CheckedAt: now, Error: msg}
}

// StatusFromHealth maps a probe result onto the coarse integration status used by GetStatus.
func StatusFromHealth(h HealthStatus) Status {
	if h.Status == HealthError {
		return StatusError
	}
	return StatusActive
}

// SyncDirection selects which way records flow.
type SyncDirection string

const (
	SyncPull          SyncDirection = "pull"
	SyncPush          SyncDirection = "push"
	SyncBidirectional SyncDirection = "bidirectional"
)

// Valid reports whether d is a known direction.
func (d SyncDirection) Valid() bool {
	switch d {
	case SyncPull, SyncPush, SyncBidirectional:
		return true
	default:
		return false
	}
}

// Pulls reports whether d reads from the vendor.
func (d SyncDirection) Pulls() bool { return d == SyncPull || d == SyncBidirectional }

// Pushes reports whether d writes to the vendor.
func (d SyncDirection) Pushes() bool { return d == SyncPush || d == SyncBidirectional }

// SyncOptions control one sync run. Limit caps the records handled per entity; zero means no cap.
type SyncOptions struct {
	Direction SyncDirection `json:"direction"`
	Entities  []string      `json:"entities"`
	Since     *time.Time    `json:"since,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	DryRun    bool          `json:"dry_run,omitempty"`
}

// Normalized fills the default direction.
func (o SyncOptions) Normalized() SyncOptions {
	if o.Direction == "" {
		o.Direction = SyncPull
	}
	return o
}

// Record is one vendor entity moved by a sync or send.
type Record struct {
	Entity     string         `json:"entity"`
	ExternalID string         `json:"external_id"`
	Data       map[string]any `json:"data"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RecordError describes a single failed entity.
type RecordError struct {
	Entity   string          `json:"entity"`
	EntityID string          `json:"entity_id,omitempty"`
	Message  string          `json:"message"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SyncResult aggregates one sync run. Success is false whenever any item failed
// or the run aborted; items already written are not rolled back.
type SyncResult struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Errors    []RecordError `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RecordFailure counts a processed item that failed.
func (r *SyncResult) RecordFailure(entity, id, msg string, payload json.RawMessage) {
	r.Processed++
	r.Failed++
	r.Errors = append(r.Errors, RecordError{Entity: entity, EntityID: id, Message: msg, Payload: payload})
}

// RecordSuccess counts a processed item that was created or updated.
func (r *SyncResult) RecordSuccess(created bool) {
	r.Processed++
	if created {
		r.Created++
	} else {
		r.Updated++
	}
}

// Abort marks the run as catastrophically failed.
func (r *SyncResult) Abort(err error) {
	r.Success = false
	r.Error = err.Error()
}

// Merge folds the counters of other into r.
func (r *SyncResult) Merge(other SyncResult) {
	r.Processed += other.Processed
	r.Created += other.Created
	r.Updated += other.Updated
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
	if other.Error != "" && r.Error == "" {
		r.Error = other.Error
	}
}

// Finish computes Success and Duration.
func (r *SyncResult) Finish(started time.Time) {
	r.Duration = time.Since(started)
	if r.Errors == nil {
		r.Errors = []RecordError{}
	}
	r.Success = r.Error == "" && r.Failed == 0
}

// SendOptions control a SendData call.
type SendOptions struct {
	Entity string `json:"entity"`
	Upsert bool   `json:"upsert"`
}

// SendResult has the same partial-failure semantics as SyncResult.
type SendResult = SyncResult

// DataQuery selects vendor entities for GetData.
type DataQuery struct {
	Entity string            `json:"entity"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Cursor string            `json:"cursor,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

// DataResult is one page of entities.
type DataResult struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor,omitempty"`
	Error      string   `json:"error,omitempty"`
	// Rejected lists page items that could not be decoded into records.
	Rejected []RecordError `json:"rejected,omitempty"`
}

// WebhookConfig holds the shared secret and subscription used to verify vendor callbacks.
type WebhookConfig struct {
	URL    string   `json:"url,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"`
}

// WebhookAction is a follow-up derived from a vendor event.
type WebhookAction struct {
	Type     string `json:"type"`
	Entity   string `json:"entity"`
	EntityID string `json:"entity_id,omitempty"`
}

// WebhookResult is the outcome of HandleWebhook. Unknown events are processed without actions.
type WebhookResult struct {
	Processed bool            `json:"processed"`
	Event     string          `json:"event,omitempty"`
	Actions   []WebhookAction `json:"actions"`
	Error     string          `json:"error,omitempty"`
}

// Webhook verification messages shared by adapters.
const (
	MsgMissingWebhookSignature = "Missing webhook signature"
	MsgInvalidWebhookSignature = "Invalid webhook signature"
)

// WebhookFailure builds an unprocessed WebhookResult.
func WebhookFailure(msg string) WebhookResult {
	return WebhookResult{Actions: []WebhookAction{}, Error: msg}
}

// ErrMissingWebhookSignature is returned by signature helpers.
var ErrMissingWebhookSignature = errors.New(MsgMissingWebhookSignature)

// ErrInvalidWebhookSignature is returned by signature helpers.
var ErrInvalidWebhookSignature = errors.New(MsgInvalidWebhookSignature)
