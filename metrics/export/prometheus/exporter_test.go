package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authfetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authfetch.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authfetch.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authfetch.MetricsSnapshot{
			Counters:   map[authfetch.MetricID]uint64{},
			Histograms: map[authfetch.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authfetch.MetricsSnapshot{
			Counters: map[authfetch.MetricID]uint64{
				authfetch.MetricRetrySent: 7,
			},
			Histograms: map[authfetch.MetricID][]uint64{
				authfetch.MetricRequestLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"authfetch_retry_sent_total 7",
		"authfetch_session_expired_total 0",
		`authfetch_request_latency_seconds_bucket{le="0.005"} 1`,
		`authfetch_request_latency_seconds_bucket{le="+Inf"} 36`,
		"authfetch_request_latency_seconds_count 36",
		"authfetch_events_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "authfetch_refresh_latency_seconds") {
		t.Fatalf("histogram without a snapshot must be omitted, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authfetch.MetricsSnapshot{
			Counters:   map[authfetch.MetricID]uint64{authfetch.MetricRequestSuccess: 1},
			Histograms: map[authfetch.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCollectorWithRegistry(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authfetch.MetricsSnapshot{
			Counters: map[authfetch.MetricID]uint64{
				authfetch.MetricRefreshStarted: 3,
				authfetch.MetricSessionExpired: 1,
			},
			Histograms: map[authfetch.MetricID][]uint64{
				authfetch.MetricRefreshLatency: {0, 2, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 4,
	})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(exp))

	expected := `
# HELP authfetch_refresh_started_total Refresh network calls.
# TYPE authfetch_refresh_started_total counter
authfetch_refresh_started_total 3
# HELP authfetch_events_dropped_total Events dropped due to dispatcher backpressure.
# TYPE authfetch_events_dropped_total counter
authfetch_events_dropped_total 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"authfetch_refresh_started_total", "authfetch_events_dropped_total"))

	count, err := testutil.GatherAndCount(reg, "authfetch_refresh_latency_seconds", "authfetch_session_expired_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCollectorReadsLiveClient(t *testing.T) {
	c, err := authfetch.New().
		WithBaseURL("http://storefront.test").
		WithRefreshTransport(authfetch.RefreshFunc(nil)).
		WithMetricsEnabled(true).
		Build()
	require.NoError(t, err)
	defer c.Close()

	c.Metrics().Inc(authfetch.MetricRequestSuccess)
	exp := NewPrometheusExporter(c)
	require.Equal(t, 1.0, testutil.ToFloat64(prometheusCounter(exp, "authfetch_request_success_total")))
}

// prometheusCounter isolates one series of the exporter for testutil.ToFloat64.
func prometheusCounter(exp *PrometheusExporter, name string) prometheus.Collector {
	return filtered{exp: exp, name: name}
}

type filtered struct {
	exp  *PrometheusExporter
	name string
}

func (f filtered) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(f, ch)
}

func (f filtered) Collect(ch chan<- prometheus.Metric) {
	all := make(chan prometheus.Metric, 64)
	go func() {
		f.exp.Collect(all)
		close(all)
	}()
	for m := range all {
		if strings.Contains(m.Desc().String(), `"`+f.name+`"`) {
			ch <- m
		}
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authfetch.MetricsSnapshot{
			Counters: map[authfetch.MetricID]uint64{
				authfetch.MetricRequestSuccess: 1000,
				authfetch.MetricRequestFailure: 40,
				authfetch.MetricRefreshStarted: 12,
				authfetch.MetricRefreshRenewed: 11,
				authfetch.MetricRetrySent:      30,
				authfetch.MetricSessionExpired: 1,
			},
			Histograms: map[authfetch.MetricID][]uint64{
				authfetch.MetricRequestLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
