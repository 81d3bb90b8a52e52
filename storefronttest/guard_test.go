package storefronttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func guardReason(t *testing.T, s *Server, prepare func(*http.Request)) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, RouteProducts, nil)
	prepare(req)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body.Reason
}

func TestGuardReasons(t *testing.T) {
	s, err := NewServer(Options{AccessTTL: time.Minute})
	require.NoError(t, err)
	access, refresh, err := s.IssueSession("u-1")
	require.NoError(t, err)

	code, _ := guardReason(t, s, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+access) })
	require.Equal(t, http.StatusOK, code)

	code, _ = guardReason(t, s, func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookie, Value: access}) })
	require.Equal(t, http.StatusOK, code)

	code, reason := guardReason(t, s, func(*http.Request) {})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, ReasonInvalid, reason)

	code, reason = guardReason(t, s, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+refresh) })
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, ReasonInvalid, reason, "a refresh token is not an access token")

	s.Advance(time.Minute + 2*time.Second)
	code, reason = guardReason(t, s, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+access) })
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, ReasonExpired, reason)
	require.Equal(t, int64(5), s.Hits(RouteProducts))
}

func postRefresh(s *Server, token string) (int, string) {
	req := httptest.NewRequest(http.MethodPost, RouteRefresh, nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: token})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body["reason"]
}

func TestRefreshRotationDetectsReuse(t *testing.T) {
	s, err := NewServer(Options{})
	require.NoError(t, err)
	_, refresh, err := s.IssueSession("u-1")
	require.NoError(t, err)

	code, _ := postRefresh(s, refresh)
	require.Equal(t, http.StatusOK, code)

	code, reason := postRefresh(s, refresh)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, ReasonRefreshReused, reason)
	require.Equal(t, int64(2), s.RefreshCalls())
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	s, err := NewServer(Options{})
	require.NoError(t, err)
	_, refresh, err := s.IssueSession("u-1")
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]int{}
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			code, reason := postRefresh(s, refresh)
			mu.Lock()
			defer mu.Unlock()
			if code == http.StatusOK {
				results["ok"]++
				return
			}
			results[reason]++
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, map[string]int{
		"ok":                 1,
		ReasonRefreshReused:  1,
		ReasonRefreshInvalid: n - 2,
	}, results)
	require.Equal(t, int64(n), s.RefreshCalls())
}
