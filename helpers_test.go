package authfetch

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://storefront.test"

type recordedSend struct {
	Method    string
	Path      string
	RequestID string
	Auth      string
	Mode      CredentialsMode
	At        time.Time
}

type sendRecorder struct {
	mu    sync.Mutex
	sends []recordedSend
}

func (r *sendRecorder) record(req *http.Request, mode CredentialsMode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, recordedSend{
		Method:    req.Method,
		Path:      req.URL.Path,
		RequestID: req.Header.Get(requestIDHeader),
		Auth:      req.Header.Get("Authorization"),
		Mode:      mode,
		At:        time.Now(),
	})
	n := 0
	for _, s := range r.sends {
		if s.Path == req.URL.Path {
			n++
		}
	}
	return n
}

func (r *sendRecorder) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sends {
		if s.Path == path {
			n++
		}
	}
	return n
}

func (r *sendRecorder) forPath(path string) []recordedSend {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedSend
	for _, s := range r.sends {
		if s.Path == path {
			out = append(out, s)
		}
	}
	return out
}

func (r *sendRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func jsonResponse(status int, body string) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func expiredResponse() *Response {
	return jsonResponse(http.StatusUnauthorized, `{"reason":"expired"}`)
}

// countingRefresh counts Renew calls and delegates to fn.
type countingRefresh struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (*Response, error)
}

func (r *countingRefresh) Renew(ctx context.Context) (*Response, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.fn(ctx)
}

func (r *countingRefresh) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestClient(t testing.TB, transport Transport, refresh RefreshTransport, opts ...func(*Builder)) *Client {
	t.Helper()
	b := New().
		WithBaseURL(testBaseURL).
		WithTransport(transport).
		WithRefreshTransport(refresh).
		WithMetricsEnabled(true)
	for _, opt := range opts {
		opt(b)
	}
	c, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}
