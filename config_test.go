package authfetch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authfetch/credentials"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/api/auth/refresh", cfg.Refresh.Endpoint)
	require.Equal(t, 10*time.Second, cfg.Refresh.Timeout)
	require.Equal(t, ModeCookie, cfg.Credentials.Mode)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "/api" }, "absolute"},
		{"ftp base url", func(c *Config) { c.BaseURL = "ftp://storefront.test" }, "scheme"},
		{"negative request timeout", func(c *Config) { c.RequestTimeout = -time.Second }, "RequestTimeout"},
		{"negative body cap", func(c *Config) { c.MaxResponseBytes = -1 }, "MaxResponseBytes"},
		{"empty header key", func(c *Config) { c.DefaultHeaders = map[string]string{" ": "x"} }, "DefaultHeaders"},
		{"zero refresh timeout", func(c *Config) { c.Refresh.Timeout = 0 }, "Refresh Timeout"},
		{"refresh delete", func(c *Config) { c.Refresh.Method = http.MethodDelete }, "Refresh Method"},
		{"empty expired reason", func(c *Config) { c.Classifier.ExpiredReasons = []string{"expired", ""} }, "ExpiredReasons"},
		{"empty field name", func(c *Config) { c.Classifier.MessageFields = []string{""} }, "field names"},
		{"unknown mode", func(c *Config) { c.Credentials.Mode = "basic" }, "Mode"},
		{"bearer without header", func(c *Config) {
			c.Credentials.Mode = ModeBearer
			c.Credentials.HeaderName = ""
		}, "HeaderName"},
		{"rate limit zero rps", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.RequestsPerSecond = 0
		}, "RequestsPerSecond"},
		{"rate limit zero burst", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Burst = 0
		}, "Burst"},
		{"events zero buffer", func(c *Config) {
			c.Events.Enabled = true
			c.Events.BufferSize = 0
		}, "BufferSize"},
		{"transport tracing alone", func(c *Config) { c.Tracing.Transport = true }, "Tracing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCloneConfigDoesNotAlias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultHeaders = map[string]string{"X-Store": "eu"}
	clone := cloneConfig(cfg)
	clone.DefaultHeaders["X-Store"] = "us"
	clone.Classifier.ExpiredReasons[0] = "changed"

	require.Equal(t, "eu", cfg.DefaultHeaders["X-Store"])
	require.Equal(t, "expired", cfg.Classifier.ExpiredReasons[0])
}

func TestParseConfigOverDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
base_url: https://admin.storefront.test
request_timeout: 5s
refresh:
  endpoint: /auth/renew
  timeout: 2s
classifier:
  expired_reasons: [jwt_expired]
rate_limit:
  enabled: true
  requests_per_second: 20
  burst: 5
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "https://admin.storefront.test", cfg.BaseURL)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.Equal(t, "/auth/renew", cfg.Refresh.Endpoint)
	require.Equal(t, http.MethodPost, cfg.Refresh.Method, "unset keys keep their defaults")
	require.Equal(t, 2*time.Second, cfg.Refresh.Timeout)
	require.Equal(t, []string{"jwt_expired"}, cfg.Classifier.ExpiredReasons)
	require.Equal(t, []string{"reason", "code", "error"}, cfg.Classifier.ReasonFields)
	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 20.0, cfg.RateLimit.RequestsPerSecond)
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("refresh:\n  endpiont: /typo\n"))
	require.Error(t, err)
}

func TestParseConfigEmptyDocument(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_agent: admin-panel/3\n"), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "admin-panel/3", cfg.UserAgent)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AUTHFETCH_BASE_URL", "https://env.storefront.test")
	t.Setenv("AUTHFETCH_REFRESH_TIMEOUT", "3s")
	t.Setenv("AUTHFETCH_RATE_LIMIT_RPS", "7.5")
	t.Setenv("AUTHFETCH_METRICS_ENABLED", "true")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(""))

	require.Equal(t, "https://env.storefront.test", cfg.BaseURL)
	require.Equal(t, 3*time.Second, cfg.Refresh.Timeout)
	require.Equal(t, 7.5, cfg.RateLimit.RequestsPerSecond)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "/api/auth/refresh", cfg.Refresh.Endpoint, "unset variables keep the current value")
}

func TestApplyEnvRejectsBadValue(t *testing.T) {
	t.Setenv("AUTHFETCH_REFRESH_TIMEOUT", "soon")
	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv(DefaultEnvPrefix))
}

func TestBuilderRejectsInvalidSetups(t *testing.T) {
	noop := RefreshFunc(func(context.Context) (*Response, error) { return nil, nil })

	tests := []struct {
		name    string
		build   func() *Builder
		wantErr string
	}{
		{
			name: "bearer mode without store",
			build: func() *Builder {
				cfg := DefaultConfig()
				cfg.Credentials.Mode = ModeBearer
				return New().WithConfig(cfg)
			},
			wantErr: "credential store",
		},
		{
			name: "store with cookie mode",
			build: func() *Builder {
				b := New().WithCredentialStore(credentials.NewMemoryStore(nil))
				cfg := DefaultConfig()
				return b.WithConfig(cfg)
			},
			wantErr: "bearer",
		},
		{
			name: "no refresh endpoint",
			build: func() *Builder {
				cfg := DefaultConfig()
				cfg.Refresh.Endpoint = ""
				return New().WithConfig(cfg)
			},
			wantErr: "Refresh Endpoint",
		},
		{
			name: "invalid config",
			build: func() *Builder {
				return New().WithBaseURL("storefront").WithRefreshTransport(noop)
			},
			wantErr: "BaseURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithRefreshTransport(RefreshFunc(func(context.Context) (*Response, error) { return nil, nil }))
	c, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = b.Build()
	require.Error(t, err)
}

func TestBuilderDefaultsToHTTPTransport(t *testing.T) {
	c, err := New().WithBaseURL(testBaseURL).Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NotNil(t, c.Jar(), "default transport carries a cookie jar")
	require.False(t, c.MetricsSnapshot().Counters[MetricRequestSuccess] > 0)
}
