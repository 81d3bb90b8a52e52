package authfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MrEthical07/authfetch/credentials"
)

// HTTPRefreshTransport is the default RefreshTransport: one request to
// Config.Refresh.Endpoint through the client's Transport.
//
// In cookie mode the request carries the ambient cookies and the server
// rotates them through Set-Cookie. In bearer mode the stored refresh
// credential is posted as {"refresh_token": ...} and the rotated pair from
// the response is saved back to the store.
type HTTPRefreshTransport struct {
	transport Transport
	base      *url.URL
	method    string
	endpoint  string
	store     credentials.Store
	headers   http.Header
}

type refreshRequestBody struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponseBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// NewHTTPRefreshTransport builds the default refresh transport. store is nil
// in cookie mode.
func NewHTTPRefreshTransport(transport Transport, cfg Config, store credentials.Store) (*HTTPRefreshTransport, error) {
	if transport == nil {
		return nil, errors.New("authfetch: refresh transport requires a Transport")
	}
	if cfg.Refresh.Endpoint == "" {
		return nil, errors.New("authfetch: Refresh Endpoint is required")
	}
	if cfg.Credentials.Mode == ModeBearer && store == nil {
		return nil, errors.New("authfetch: bearer mode requires a credential store")
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	method := cfg.Refresh.Method
	if method == "" {
		method = http.MethodPost
	}
	return &HTTPRefreshTransport{
		transport: transport,
		base:      base,
		method:    method,
		endpoint:  cfg.Refresh.Endpoint,
		store:     store,
		headers:   defaultHeaders(cfg),
	}, nil
}

// Renew implements RefreshTransport.
func (t *HTTPRefreshTransport) Renew(ctx context.Context) (*Response, error) {
	if t.store == nil {
		return t.send(ctx, nil, CredentialsInclude)
	}

	sess, err := t.store.Load(ctx)
	if errors.Is(err, credentials.ErrNoSession) || (err == nil && sess.RefreshToken == "") {
		return nil, fmt.Errorf("%w: no stored refresh credential", ErrRefreshCredentialInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("authfetch: load credentials: %w", err)
	}

	req, err := NewJSONRequest(t.method, t.endpoint, refreshRequestBody{RefreshToken: sess.RefreshToken})
	if err != nil {
		return nil, err
	}
	resp, err := t.send(ctx, req, CredentialsOmit)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.OK():
		var body refreshResponseBody
		if err := resp.DecodeJSON(&body); err != nil {
			return nil, err
		}
		if body.RefreshToken == "" {
			body.RefreshToken = sess.RefreshToken
		}
		next, err := credentials.NewSession(body.AccessToken, body.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("authfetch: refresh response: %w", err)
		}
		if err := t.store.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("authfetch: save credentials: %w", err)
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if err := t.store.Clear(ctx); err != nil {
			// Still a denial; the stale credential may be presented again.
			return nil, fmt.Errorf("%w: refresh endpoint answered %d, clear credentials: %w",
				ErrRefreshCredentialInvalid, resp.StatusCode, err)
		}
	}
	return resp, nil
}

func (t *HTTPRefreshTransport) send(ctx context.Context, req *Request, mode CredentialsMode) (*Response, error) {
	if req == nil {
		r, err := NewRequest(t.method, t.endpoint, nil)
		if err != nil {
			return nil, err
		}
		req = r
	}
	httpReq, err := req.build(ctx, t.base, t.headers)
	if err != nil {
		return nil, err
	}
	if id := requestIDFromContext(ctx); id != "" {
		httpReq.Header.Set(requestIDHeader, id)
	}
	return t.transport.Send(ctx, httpReq, mode)
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("authfetch: parse BaseURL: %w", err)
	}
	return u, nil
}

func defaultHeaders(cfg Config) http.Header {
	h := make(http.Header, len(cfg.DefaultHeaders)+1)
	for k, v := range cfg.DefaultHeaders {
		h.Set(k, v)
	}
	if cfg.UserAgent != "" && h.Get("User-Agent") == "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	return h
}
