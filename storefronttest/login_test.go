package storefronttest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func postLogin(s *Server, user, pass string) int {
	body := `{"username":"` + user + `","password":"` + pass + `"}`
	req := httptest.NewRequest(http.MethodPost, RouteLogin, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec.Code
}

func TestLoginVerifiesHashedPassword(t *testing.T) {
	s, err := NewServer(Options{})
	require.NoError(t, err)
	require.NotEqual(t, DefaultPassword, s.users[DefaultUser])

	require.Equal(t, http.StatusOK, postLogin(s, DefaultUser, DefaultPassword))
	require.Equal(t, http.StatusUnauthorized, postLogin(s, DefaultUser, "wrong-password"))
	require.Equal(t, http.StatusUnauthorized, postLogin(s, "nobody@storefront.test", DefaultPassword))
}

func TestShortSeedPasswordRejected(t *testing.T) {
	_, err := NewServer(Options{Users: map[string]string{"u": "short"}})
	require.Error(t, err)
}

func TestLoginThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewServer(Options{LoginRedis: client, MaxLoginFailures: 2, LoginWindow: time.Minute})
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, postLogin(s, DefaultUser, "wrong-password"))
	require.Equal(t, http.StatusUnauthorized, postLogin(s, DefaultUser, "wrong-password"))
	require.Equal(t, http.StatusTooManyRequests, postLogin(s, DefaultUser, DefaultPassword))

	mr.FastForward(2 * time.Minute)
	require.Equal(t, http.StatusOK, postLogin(s, DefaultUser, DefaultPassword))
	require.Equal(t, http.StatusUnauthorized, postLogin(s, DefaultUser, "wrong-password"))
	require.Equal(t, http.StatusOK, postLogin(s, DefaultUser, DefaultPassword))
}
