package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lexdesk"
)

var (
	operationDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

	// Adapter operation metrics
	AdapterOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adapter_operations_total",
		Help:      "Count of integration service operations by outcome.",
	}, []string{"provider", "action", "status"})

	AdapterOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "adapter_operation_duration_seconds",
		Help:      "Time taken by integration service operations.",
		Buckets:   operationDurationBuckets,
	}, []string{"provider", "action"})

	// Sync metrics
	SyncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_records_total",
		Help:      "Records handled by syncs, partitioned by result.",
	}, []string{"provider", "result"})

	SyncLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful sync.",
	}, []string{"provider", "integration_id"})

	// Webhook metrics
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Inbound webhook deliveries by processing outcome.",
	}, []string{"provider", "processed"})

	// Health metrics
	IntegrationHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "integration_health",
		Help:      "Last probe result per integration: 1 healthy, 0.5 warning, 0 error.",
	}, []string{"provider", "integration_id"})
)

// ForgetIntegration drops the per-integration series of a deleted integration.
func ForgetIntegration(integrationID string) {
	labels := prometheus.Labels{"integration_id": integrationID}
	IntegrationHealth.DeletePartialMatch(labels)
	SyncLastSuccessTimestamp.DeletePartialMatch(labels)
}
