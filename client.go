package authfetch

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/MrEthical07/authfetch/credentials"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// Client is the resilient authenticated request client. Build one per
// backend with New().…Build() and share it; all methods are safe for
// concurrent use.
type Client struct {
	config   Config
	base     *url.URL
	defaults http.Header

	transport  Transport
	http       *HTTPTransport
	refresh    *RefreshCoordinator
	classifier Classifier
	policy     RetryPolicy
	notifier   SessionExpiryNotifier
	store      credentials.Store
	limiter    *rate.Limiter

	logger  *zap.Logger
	metrics *Metrics
	events  *eventDispatcher
	tracer  trace.Tracer

	closed atomic.Bool
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	req, err := NewRequest(http.MethodGet, path, nil, opts...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Post issues a POST with a raw body.
func (c *Client) Post(ctx context.Context, path string, body []byte, opts ...RequestOption) (*Response, error) {
	req, err := NewRequest(http.MethodPost, path, body, opts...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Put issues a PUT with a raw body.
func (c *Client) Put(ctx context.Context, path string, body []byte, opts ...RequestOption) (*Response, error) {
	req, err := NewRequest(http.MethodPut, path, body, opts...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	req, err := NewRequest(http.MethodDelete, path, nil, opts...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// DoJSON sends in as a JSON body (nil for none) and decodes a successful
// response into out (nil to discard). Errors are those of Do.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	req, err := NewJSONRequest(method, path, in, opts...)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.DecodeJSON(out)
}

// Jar returns the cookie jar of the default transport, or nil when a custom
// Transport was injected.
func (c *Client) Jar() http.CookieJar {
	if c.http == nil {
		return nil
	}
	return c.http.Jar()
}

// Refresher exposes the refresh coordinator, mostly for diagnostics.
func (c *Client) Refresher() *RefreshCoordinator {
	return c.refresh
}

// Metrics returns the live metrics, for exporters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot returns a point-in-time copy of the client metrics.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// EventsDropped reports events lost to a full buffer.
func (c *Client) EventsDropped() uint64 {
	return c.events.Dropped()
}

// EventsDroppedByType splits EventsDropped by event type.
func (c *Client) EventsDroppedByType() map[EventType]uint64 {
	return c.events.DroppedByType()
}

// Close rejects further requests and flushes pending events. In-flight
// requests finish normally.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.events.Close()
}
