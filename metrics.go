package authfetch

import (
	"sync/atomic"
	"time"
)

// MetricID names one client counter or latency histogram.
type MetricID uint16

const (
	// MetricRequestSuccess counts request chains that ended with a 2xx.
	MetricRequestSuccess MetricID = iota
	// MetricRequestFailure counts request chains that ended with HTTPError.
	MetricRequestFailure
	// MetricTransportError counts sends that received no response.
	MetricTransportError
	// MetricAuthExpired counts responses classified as an expired access credential.
	MetricAuthExpired
	// MetricAuthInvalid counts responses classified as invalid credentials.
	MetricAuthInvalid
	// MetricRefreshStarted counts refresh network calls.
	MetricRefreshStarted
	// MetricRefreshReused counts requests satisfied by a renewal that had already completed.
	MetricRefreshReused
	// MetricRefreshAbandoned counts waiters that left a shared refresh on cancellation.
	MetricRefreshAbandoned
	MetricRefreshRenewed
	MetricRefreshDeniedInvalid
	MetricRefreshDeniedTransient
	// MetricRetrySent counts refresh-driven resends.
	MetricRetrySent
	// MetricSessionExpired counts request chains that ended with SessionExpiredError.
	MetricSessionExpired
	// MetricRefreshTransient counts request chains that ended with RefreshTransientError.
	MetricRefreshTransient
	// MetricRequestLatency is a histogram of whole request chain latency.
	MetricRequestLatency
	// MetricRefreshLatency is a histogram of refresh call latency.
	MetricRefreshLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricRequestSuccess:         "request_success",
	MetricRequestFailure:         "request_failure",
	MetricTransportError:         "transport_error",
	MetricAuthExpired:            "auth_expired",
	MetricAuthInvalid:            "auth_invalid",
	MetricRefreshStarted:         "refresh_started",
	MetricRefreshReused:          "refresh_reused",
	MetricRefreshAbandoned:       "refresh_abandoned",
	MetricRefreshRenewed:         "refresh_renewed",
	MetricRefreshDeniedInvalid:   "refresh_denied_invalid",
	MetricRefreshDeniedTransient: "refresh_denied_transient",
	MetricRetrySent:              "retry_sent",
	MetricSessionExpired:         "session_expired",
	MetricRefreshTransient:       "refresh_transient",
	MetricRequestLatency:         "request_latency",
	MetricRefreshLatency:         "refresh_latency",
}

// String returns the snake_case name used by the exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

func isHistogram(id MetricID) bool {
	return id == MetricRequestLatency || id == MetricRefreshLatency
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds, in milliseconds, of the
// first seven latency buckets. The eighth bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of client counters and latency histograms.
// All methods are safe on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics recording per cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in a latency histogram. Non-histogram IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns a counter's current value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies the current values. Counters for histogram IDs are
// omitted; histograms are present only when latency recording is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricRequestLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range HistogramBounds {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
