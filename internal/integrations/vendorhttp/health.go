package vendorhttp

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
)

// Classifier maps a probe status code to a health state.
type Classifier func(statusCode int) integrations.HealthState

// StrictClassifier treats 2xx as healthy, other 4xx as warning and anything else as error.
func StrictClassifier(statusCode int) integrations.HealthState {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return integrations.HealthHealthy
	case statusCode >= 400 && statusCode < 500:
		return integrations.HealthWarning
	default:
		return integrations.HealthError
	}
}

// HealthFromProbe converts a probe into a HealthStatus stamped with now.
func HealthFromProbe(p ProbeResult, now time.Time, classify Classifier) integrations.HealthStatus {
	if classify == nil {
		classify = StrictClassifier
	}
	out := integrations.HealthStatus{ResponseTime: p.Elapsed, CheckedAt: now}
	if p.Err != nil {
		out.Status = integrations.HealthError
		out.Error = p.Err.Error()
		return out
	}
	out.Status = classify(p.StatusCode)
	if out.Status != integrations.HealthHealthy {
		out.Error = fmt.Sprintf("probe returned %d %s", p.StatusCode, http.StatusText(p.StatusCode))
	}
	return out
}
