// Package monitor records the outcome of integration operations to structured logs,
// Prometheus and the persisted integration log.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/metrics"
	"github.com/lexdesk/lexdesk/internal/store"
)

// Event describes one finished operation.
type Event struct {
	IntegrationID string
	Provider      string
	Action        string
	Message       string
	Details       map[string]any
	Duration      time.Duration
}

// Monitor is the sink every integration service operation reports to.
type Monitor interface {
	Action(ctx context.Context, ev Event)
	Error(ctx context.Context, ev Event, err error)
}

// Recorder is the production Monitor.
type Recorder struct {
	logs   store.LogStore
	logger *slog.Logger
	now    func() time.Time
}

var _ Monitor = (*Recorder)(nil)

// New returns a Recorder. A nil log store only logs and counts.
func New(logs store.LogStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logs: logs, logger: logger, now: time.Now}
}

func (r *Recorder) Action(ctx context.Context, ev Event) {
	r.logger.InfoContext(ctx, ev.message("integration action"), ev.attrs()...)
	r.observe(ev, "success")
	r.persist(ctx, ev, integrations.LogInfo, ev.message("ok"))
}

func (r *Recorder) Error(ctx context.Context, ev Event, err error) {
	msg := ev.Message
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "operation failed"
	}
	attrs := append(ev.attrs(), "err", msg)
	r.logger.ErrorContext(ctx, "integration action failed", attrs...)
	r.observe(ev, "error")
	r.persist(ctx, ev, integrations.LogError, msg)
}

func (r *Recorder) observe(ev Event, status string) {
	provider := ev.Provider
	if provider == "" {
		provider = "unknown"
	}
	metrics.AdapterOperationsTotal.WithLabelValues(provider, ev.Action, status).Inc()
	if ev.Duration > 0 {
		metrics.AdapterOperationDuration.WithLabelValues(provider, ev.Action).Observe(ev.Duration.Seconds())
	}
}

// persist writes the log row. Failures are logged, never returned, so a broken log table
// cannot fail the operation being recorded.
func (r *Recorder) persist(ctx context.Context, ev Event, level integrations.LogLevel, msg string) {
	if r.logs == nil {
		return
	}
	details := ev.Details
	if ev.Provider != "" || ev.Duration > 0 {
		details = make(map[string]any, len(ev.Details)+2)
		for k, v := range ev.Details {
			details[k] = v
		}
		if ev.Provider != "" {
			details["provider"] = ev.Provider
		}
		if ev.Duration > 0 {
			details["duration_ms"] = ev.Duration.Milliseconds()
		}
	}
	entry := integrations.LogEntry{
		ID:            uuid.NewString(),
		IntegrationID: ev.IntegrationID,
		Action:        ev.Action,
		Level:         level,
		Message:       msg,
		Details:       details,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.logs.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("integration log append failed", "integration_id", ev.IntegrationID, "action", ev.Action, "err", err)
	}
}

func (ev Event) message(fallback string) string {
	if ev.Message != "" {
		return ev.Message
	}
	return fallback
}

func (ev Event) attrs() []any {
	attrs := []any{"action", ev.Action}
	if ev.IntegrationID != "" {
		attrs = append(attrs, "integration_id", ev.IntegrationID)
	}
	if ev.Provider != "" {
		attrs = append(attrs, "provider", ev.Provider)
	}
	if ev.Duration > 0 {
		attrs = append(attrs, "duration", ev.Duration)
	}
	return attrs
}

// Nop discards every event.
type Nop struct{}

func (Nop) Action(context.Context, Event)        {}
func (Nop) Error(context.Context, Event, error) {}
