package metrics

import (
	"time"

	"github.com/studyforge/studyforge/internal/observability"
)

// Metric names.
const (
	PlanRequestsTotal       = "plan_requests_total"
	PlanGenerationDuration  = "plan_generation_duration_ms"
	UpstreamTokensTotal     = "upstream_tokens_total"
	AdmissionDecisionsTotal = "admission_decisions_total"
	AdmissionErrorsTotal    = "admission_errors_total"
	AdmissionSweptTotal     = "admission_swept_total"
	HealthCheckTotal        = "app_health_check_total"
	HealthCheckDuration     = "app_health_check_duration_ms"
	ServerStartTime         = "app_server_start_time_seconds"
	ServerUptime            = "app_server_uptime_seconds"
)

// Plan request outcomes.
const (
	OutcomeSuccess           = "success"
	OutcomeRejected          = "rejected"
	OutcomeInvalid           = "invalid"
	OutcomeUpstreamAuth      = "upstream_auth"
	OutcomeUpstreamRateLimit = "upstream_rate_limit"
	OutcomeUpstreamEmpty     = "upstream_empty"
	OutcomeError             = "error"
)

// RecordPlanRequest counts one /generate request by outcome.
func RecordPlanRequest(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			PlanRequestsTotal,
			1,
			map[string]string{"outcome": outcome},
		)
	}
}

// RecordPlanGeneration records the upstream call latency for a model.
func RecordPlanGeneration(model string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			PlanGenerationDuration,
			duration,
			map[string]string{
				"model":  model,
				"status": status,
			},
		)
	}
}

// RecordUpstreamTokens adds reported token usage.
func RecordUpstreamTokens(model string, prompt, completion int) {
	if observability.TelemetrySystem == nil {
		return
	}
	if prompt > 0 {
		_ = observability.TelemetrySystem.Counter(
			UpstreamTokensTotal,
			float64(prompt),
			map[string]string{"model": model, "kind": "prompt"},
		)
	}
	if completion > 0 {
		_ = observability.TelemetrySystem.Counter(
			UpstreamTokensTotal,
			float64(completion),
			map[string]string{"model": model, "kind": "completion"},
		)
	}
}

// RecordAdmission counts an admission decision.
func RecordAdmission(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AdmissionDecisionsTotal,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordAdmissionError counts a limiter failure that was admitted fail-open.
func RecordAdmissionError(backend string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AdmissionErrorsTotal,
			1,
			map[string]string{"backend": backend},
		)
	}
}

// RecordAdmissionSweep counts usage records removed by the janitor.
func RecordAdmissionSweep(removed int) {
	if observability.TelemetrySystem != nil && removed > 0 {
		_ = observability.TelemetrySystem.Counter(
			AdmissionSweptTotal,
			float64(removed),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
