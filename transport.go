package authfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

// Transport sends one HTTP request and returns the fully read response.
// A non-nil error means no response was received.
//
// This is the seam where any underlying HTTP stack plugs in; tests inject a
// TransportFunc.
type Transport interface {
	Send(ctx context.Context, req *http.Request, mode CredentialsMode) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *http.Request, mode CredentialsMode) (*Response, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req *http.Request, mode CredentialsMode) (*Response, error) {
	return f(ctx, req, mode)
}

// HTTPTransport is the default Transport. It keeps two http.Clients sharing
// one round tripper: one with a cookie jar for CredentialsInclude and one
// without for CredentialsOmit.
type HTTPTransport struct {
	withJar    *http.Client
	withoutJar *http.Client
	jar        http.CookieJar
	maxBody    int64
}

// HTTPTransportOptions configures NewHTTPTransport.
type HTTPTransportOptions struct {
	// RoundTripper defaults to a clone of http.DefaultTransport.
	RoundTripper http.RoundTripper
	// Jar defaults to a public-suffix aware in-memory jar.
	Jar http.CookieJar
	// MaxResponseBytes caps the bytes read from a response body. 0 means no cap.
	MaxResponseBytes int64
	// Tracing wraps the round tripper with otelhttp.
	Tracing bool
}

// NewHTTPTransport builds the default transport.
func NewHTTPTransport(opts HTTPTransportOptions) (*HTTPTransport, error) {
	rt := opts.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.Tracing {
		rt = otelhttp.NewTransport(rt)
	}

	jar := opts.Jar
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("authfetch: create cookie jar: %w", err)
		}
		jar = j
	}

	return &HTTPTransport{
		withJar:    &http.Client{Transport: rt, Jar: jar, CheckRedirect: noRedirects},
		withoutJar: &http.Client{Transport: rt, CheckRedirect: noRedirects},
		jar:        jar,
		maxBody:    opts.MaxResponseBytes,
	}, nil
}

// Jar returns the cookie jar used for CredentialsInclude requests.
func (t *HTTPTransport) Jar() http.CookieJar {
	return t.jar
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *http.Request, mode CredentialsMode) (*Response, error) {
	client := t.withJar
	if mode == CredentialsOmit {
		client = t.withoutJar
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, t.maxBody)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// A redirect to a login page is the server's business; the client reports
// the 3xx as-is and never follows it with credentials attached.
func noRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// sendTimeout bounds one send with the per-request timeout.
func sendTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
