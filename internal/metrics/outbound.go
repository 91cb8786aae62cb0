package metrics

import (
	"time"

	"github.com/fetchguard/fetchguard/internal/observability"
)

// Outbound gateway and request-stream metrics following Prometheus conventions
const (
	OutboundAttemptsTotal  = "outbound_requests_total"
	OutboundRetriesTotal   = "outbound_retries_total"
	OutboundCacheHitsTotal = "outbound_cache_hits_total"
	OutboundAdmissionWait  = "outbound_admission_wait_ms"

	StreamSubscribers   = "stream_subscribers"
	StreamBatchesTotal  = "stream_batches_total"
	StreamBufferedCount = "stream_buffered_events"
	StreamCapturedCount = "stream_captured_events"
)

// RecordOutboundAttempt records one dispatch attempt and how it was classified
func RecordOutboundAttempt(method string, outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OutboundAttemptsTotal,
			1,
			map[string]string{
				"method":  method,
				"outcome": outcome,
			},
		)
	}
}

// RecordOutboundRetry records a backoff before another attempt
func RecordOutboundRetry(method string, reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OutboundRetriesTotal,
			1,
			map[string]string{
				"method": method,
				"reason": reason,
			},
		)
	}
}

// RecordCacheHit records a call answered from the response cache
func RecordCacheHit(method string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OutboundCacheHitsTotal,
			1,
			map[string]string{
				"method": method,
			},
		)
	}
}

// RecordAdmissionWait records how long a call waited for the rate limiter
func RecordAdmissionWait(wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			OutboundAdmissionWait,
			wait,
			nil,
		)
	}
}

// SetStreamSubscribers sets the number of connected stream subscribers
func SetStreamSubscribers(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			StreamSubscribers,
			float64(count),
			nil,
		)
	}
}

// RecordStreamBatch records a batch delivered to a subscriber
func RecordStreamBatch(size int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			StreamBatchesTotal,
			1,
			map[string]string{
				"empty": boolLabel(size == 0),
			},
		)
	}
}

// SetStreamBuffered sets the number of events held by the ingestion buffer
func SetStreamBuffered(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			StreamBufferedCount,
			float64(count),
			nil,
		)
	}
}

// SetStreamCaptured sets the number of events captured since startup
func SetStreamCaptured(count uint64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			StreamCapturedCount,
			float64(count),
			nil,
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			"app_server_start_time_seconds",
			float64(timestamp),
			nil,
		)
	}
}

func boolLabel(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
