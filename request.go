package authfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// CredentialsMode controls whether ambient session credentials travel with a
// request. It mirrors the "credentials" option of browser fetch.
type CredentialsMode uint8

const (
	// CredentialsInclude attaches the cookie jar and, when a credential store
	// is configured, an Authorization header.
	CredentialsInclude CredentialsMode = iota
	// CredentialsOmit sends the request with no session credentials at all.
	CredentialsOmit
)

func (m CredentialsMode) String() string {
	switch m {
	case CredentialsInclude:
		return "include"
	case CredentialsOmit:
		return "omit"
	default:
		return "unknown"
	}
}

// Request is an immutable, re-sendable request description. The body is
// buffered so the same Request can be issued again after a session refresh.
type Request struct {
	method      string
	path        string
	header      http.Header
	body        []byte
	credentials CredentialsMode
}

// RequestOption customizes a Request at construction time.
type RequestOption func(*Request)

// WithHeader adds a header value to the request.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		r.header.Add(key, value)
	}
}

// WithCredentials sets the credentials mode. The default is CredentialsInclude.
func WithCredentials(mode CredentialsMode) RequestOption {
	return func(r *Request) {
		r.credentials = mode
	}
}

// NewRequest builds a Request. path is resolved against Config.BaseURL
// unless it is an absolute URL. body is copied.
func NewRequest(method, path string, body []byte, opts ...RequestOption) (*Request, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("authfetch: empty request path")
	}
	r := &Request{
		method: method,
		path:   path,
		header: make(http.Header),
	}
	if len(body) > 0 {
		r.body = bytes.Clone(body)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewJSONRequest marshals v as the request body and sets the JSON content type.
func NewJSONRequest(method, path string, v any, opts ...RequestOption) (*Request, error) {
	var body []byte
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("authfetch: marshal request body: %w", err)
		}
		body = data
	}
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	return NewRequest(method, path, body, opts...)
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Path returns the path or absolute URL as given to NewRequest.
func (r *Request) Path() string { return r.path }

// Credentials returns the credentials mode.
func (r *Request) Credentials() CredentialsMode { return r.credentials }

// Header returns a copy of the request headers.
func (r *Request) Header() http.Header { return r.header.Clone() }

// Body returns a copy of the buffered body.
func (r *Request) Body() []byte { return bytes.Clone(r.body) }

// build produces a fresh *http.Request for one send. Nothing in r is shared
// with the result, so concurrent sends of the same Request are safe.
func (r *Request) build(ctx context.Context, base *url.URL, defaults http.Header) (*http.Request, error) {
	target, err := resolveURL(base, r.path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("authfetch: build request: %w", err)
	}
	if len(r.body) > 0 {
		payload := r.body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	for k, vs := range defaults {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range r.header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func resolveURL(base *url.URL, path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("authfetch: parse request path %q: %w", path, err)
	}
	if ref.IsAbs() || base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return fmt.Errorf("authfetch: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("authfetch: decode response body: %w", err)
	}
	return nil
}
