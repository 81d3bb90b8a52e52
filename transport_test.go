package authfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCookieServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s-1", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(c.Value))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func transportGet(t *testing.T, tr *HTTPTransport, url string, mode CredentialsMode) (*Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return tr.Send(context.Background(), req, mode)
}

func TestHTTPTransportCookieJarFollowsCredentialsMode(t *testing.T) {
	srv := newCookieServer(t)
	tr, err := NewHTTPTransport(HTTPTransportOptions{})
	require.NoError(t, err)

	resp, err := transportGet(t, tr, srv.URL+"/login", CredentialsInclude)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = transportGet(t, tr, srv.URL+"/whoami", CredentialsInclude)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s-1", string(resp.Body))

	resp, err = transportGet(t, tr, srv.URL+"/whoami", CredentialsOmit)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPTransportDoesNotFollowRedirects(t *testing.T) {
	srv := newCookieServer(t)
	tr, err := NewHTTPTransport(HTTPTransportOptions{})
	require.NoError(t, err)

	resp, err := transportGet(t, tr, srv.URL+"/redirect", CredentialsInclude)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestHTTPTransportBodyCap(t *testing.T) {
	srv := newCookieServer(t)
	tr, err := NewHTTPTransport(HTTPTransportOptions{MaxResponseBytes: 16})
	require.NoError(t, err)

	_, err = transportGet(t, tr, srv.URL+"/big", CredentialsInclude)
	require.ErrorIs(t, err, ErrResponseTooLarge)

	uncapped, err := NewHTTPTransport(HTTPTransportOptions{})
	require.NoError(t, err)
	resp, err := transportGet(t, uncapped, srv.URL+"/big", CredentialsInclude)
	require.NoError(t, err)
	require.Len(t, resp.Body, 64)
}

func TestClientOverHTTPRenewsCookieSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("refresh"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access", Value: "fresh", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/products", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("access")
		if err != nil || c.Value != "fresh" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"reason":"expired"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":"p-1"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New().WithBaseURL(srv.URL).WithMetricsEnabled(true).Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	u, err := parseBaseURL(srv.URL)
	require.NoError(t, err)
	c.Jar().SetCookies(u, []*http.Cookie{
		{Name: "access", Value: "stale", Path: "/"},
		{Name: "refresh", Value: "r-1", Path: "/"},
	})

	var products []struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, "/api/products", nil, &products))
	require.Len(t, products, 1)
	require.Equal(t, uint64(1), c.MetricsSnapshot().Counters[MetricRefreshRenewed])
}
