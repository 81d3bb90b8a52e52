package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/authfetch"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authfetch.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   authfetch.MetricID
	Name string
	Help string
}

// EventsDroppedName is the counter for events lost to a full dispatcher buffer.
const EventsDroppedName = "authfetch_events_dropped_total"

// CounterDefs lists every client counter in export order.
var CounterDefs = []CounterDef{
	{ID: authfetch.MetricRequestSuccess, Name: "authfetch_request_success_total", Help: "Request chains that ended with a 2xx response."},
	{ID: authfetch.MetricRequestFailure, Name: "authfetch_request_failure_total", Help: "Request chains that ended with a non-auth HTTP error."},
	{ID: authfetch.MetricTransportError, Name: "authfetch_transport_error_total", Help: "Sends that received no response."},
	{ID: authfetch.MetricAuthExpired, Name: "authfetch_auth_expired_total", Help: "Responses classified as an expired access credential."},
	{ID: authfetch.MetricAuthInvalid, Name: "authfetch_auth_invalid_total", Help: "Responses classified as invalid credentials."},
	{ID: authfetch.MetricRefreshStarted, Name: "authfetch_refresh_started_total", Help: "Refresh network calls."},
	{ID: authfetch.MetricRefreshReused, Name: "authfetch_refresh_reused_total", Help: "Requests satisfied by an already completed renewal."},
	{ID: authfetch.MetricRefreshAbandoned, Name: "authfetch_refresh_abandoned_total", Help: "Waiters that left a shared refresh on cancellation."},
	{ID: authfetch.MetricRefreshRenewed, Name: "authfetch_refresh_renewed_total", Help: "Refreshes that renewed the session."},
	{ID: authfetch.MetricRefreshDeniedInvalid, Name: "authfetch_refresh_denied_invalid_total", Help: "Refreshes denied because the refresh credential is invalid."},
	{ID: authfetch.MetricRefreshDeniedTransient, Name: "authfetch_refresh_denied_transient_total", Help: "Refreshes that failed for a transient reason."},
	{ID: authfetch.MetricRetrySent, Name: "authfetch_retry_sent_total", Help: "Resends after a session renewal."},
	{ID: authfetch.MetricSessionExpired, Name: "authfetch_session_expired_total", Help: "Request chains that ended with SessionExpiredError."},
	{ID: authfetch.MetricRefreshTransient, Name: "authfetch_refresh_transient_total", Help: "Request chains that ended with RefreshTransientError."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: authfetch.MetricRequestLatency, Name: "authfetch_request_latency_seconds", Help: "Request chain latency including any renewal and resend."},
	{ID: authfetch.MetricRefreshLatency, Name: "authfetch_refresh_latency_seconds", Help: "Refresh call latency."},
}

// BucketCount is the number of latency buckets, the last one unbounded.
const BucketCount = len(authfetch.HistogramBounds) + 1

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(authfetch.HistogramBounds))
	for i, ms := range authfetch.HistogramBounds {
		out[i] = float64(ms) / 1000
	}
	return out
}

// BoundLabels returns the le label of every bucket, "+Inf" last.
func BoundLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into Prometheus cumulative counts.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
