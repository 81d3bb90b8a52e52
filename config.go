package authfetch

import (
	"errors"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRefreshTimeout   = 10 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultMaxResponseBytes = 8 << 20
	defaultUserAgent        = "authfetch/1"

	tracerName = "github.com/MrEthical07/authfetch"
)

// Credential attachment modes for CredentialsConfig.Mode.
const (
	// ModeCookie relies on the cookie jar alone. The refresh endpoint rotates
	// the session cookies.
	ModeCookie = "cookie"
	// ModeBearer additionally sends the stored access credential as a bearer
	// header and posts the stored refresh credential to the refresh endpoint.
	ModeBearer = "bearer"
)

// Config is the full client configuration. Start from DefaultConfig and
// override fields; Builder.Build validates it.
type Config struct {
	// BaseURL is the origin relative request paths resolve against.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
	// RequestTimeout bounds every individual send, original and resend alike.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	// MaxResponseBytes caps response bodies. 0 disables the cap.
	MaxResponseBytes int64             `yaml:"max_response_bytes" envconfig:"MAX_RESPONSE_BYTES"`
	UserAgent        string            `yaml:"user_agent" envconfig:"USER_AGENT"`
	DefaultHeaders   map[string]string `yaml:"default_headers" envconfig:"DEFAULT_HEADERS"`

	Refresh     RefreshConfig     `yaml:"refresh" envconfig:"REFRESH"`
	Classifier  ClassifierConfig  `yaml:"classifier" envconfig:"CLASSIFIER"`
	Credentials CredentialsConfig `yaml:"credentials" envconfig:"CREDENTIALS"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Events      EventsConfig      `yaml:"events" envconfig:"EVENTS"`
	Metrics     MetricsConfig     `yaml:"metrics" envconfig:"METRICS"`
	Tracing     TracingConfig     `yaml:"tracing" envconfig:"TRACING"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig describes the dedicated "renew session" call used by the
// default HTTPRefreshTransport.
type RefreshConfig struct {
	Endpoint string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Method   string        `yaml:"method" envconfig:"METHOD"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

/*
====================================
CLASSIFIER CONFIG
====================================
*/

// ClassifierConfig is the expiry predicate of DefaultClassifier. The backend's
// error body contract lives here so it can change without touching the client.
type ClassifierConfig struct {
	// ReasonFields are JSON body fields compared against ExpiredReasons.
	ReasonFields   []string `yaml:"reason_fields" envconfig:"REASON_FIELDS"`
	ExpiredReasons []string `yaml:"expired_reasons" envconfig:"EXPIRED_REASONS"`
	// MessageFields are JSON body fields searched for ExpiredMessages.
	MessageFields   []string `yaml:"message_fields" envconfig:"MESSAGE_FIELDS"`
	ExpiredMessages []string `yaml:"expired_messages" envconfig:"EXPIRED_MESSAGES"`
}

/*
====================================
CREDENTIALS CONFIG
====================================
*/

// CredentialsConfig selects how session credentials travel.
type CredentialsConfig struct {
	Mode       string `yaml:"mode" envconfig:"MODE"`
	HeaderName string `yaml:"header_name" envconfig:"HEADER_NAME"`
	Scheme     string `yaml:"scheme" envconfig:"SCHEME"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RPS"`
	Burst             int     `yaml:"burst" envconfig:"BURST"`
}

type EventsConfig struct {
	Enabled    bool `yaml:"enabled" envconfig:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" envconfig:"DROP_IF_FULL"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" envconfig:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"latency_histograms" envconfig:"LATENCY_HISTOGRAMS"`
}

// TracingConfig turns on spans for request chains and refreshes. Transport
// also wraps the default HTTP round tripper with otelhttp.
type TracingConfig struct {
	Enabled   bool `yaml:"enabled" envconfig:"ENABLED"`
	Transport bool `yaml:"transport" envconfig:"TRANSPORT"`
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		RequestTimeout:   defaultRequestTimeout,
		MaxResponseBytes: defaultMaxResponseBytes,
		UserAgent:        defaultUserAgent,
		Refresh: RefreshConfig{
			Endpoint: "/api/auth/refresh",
			Method:   http.MethodPost,
			Timeout:  defaultRefreshTimeout,
		},
		Classifier: ClassifierConfig{
			ReasonFields:    []string{"reason", "code", "error"},
			ExpiredReasons:  []string{"expired", "token_expired", "access_token_expired"},
			MessageFields:   []string{"message", "error_description"},
			ExpiredMessages: []string{"access token expired", "token is expired", "jwt expired"},
		},
		Credentials: CredentialsConfig{
			Mode:       ModeCookie,
			HeaderName: "Authorization",
			Scheme:     "Bearer",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			Burst:             10,
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.DefaultHeaders = maps.Clone(cfg.DefaultHeaders)
	out.Classifier.ReasonFields = cloneStrings(cfg.Classifier.ReasonFields)
	out.Classifier.ExpiredReasons = cloneStrings(cfg.Classifier.ExpiredReasons)
	out.Classifier.MessageFields = cloneStrings(cfg.Classifier.MessageFields)
	out.Classifier.ExpiredMessages = cloneStrings(cfg.Classifier.ExpiredMessages)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return errors.New("BaseURL must be an absolute URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("BaseURL scheme must be http or https")
		}
	}
	if c.RequestTimeout < 0 {
		return errors.New("RequestTimeout must be >= 0")
	}
	if c.MaxResponseBytes < 0 {
		return errors.New("MaxResponseBytes must be >= 0")
	}
	for k := range c.DefaultHeaders {
		if strings.TrimSpace(k) == "" {
			return errors.New("DefaultHeaders keys must not be empty")
		}
	}

	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	switch strings.ToUpper(c.Refresh.Method) {
	case http.MethodPost, http.MethodPut, http.MethodGet:
	default:
		return errors.New("Refresh Method must be POST, PUT, or GET")
	}

	for _, r := range c.Classifier.ExpiredReasons {
		if strings.TrimSpace(r) == "" {
			return errors.New("Classifier ExpiredReasons must not contain empty values")
		}
	}
	for _, f := range append(cloneStrings(c.Classifier.ReasonFields), c.Classifier.MessageFields...) {
		if strings.TrimSpace(f) == "" {
			return errors.New("Classifier field names must not be empty")
		}
	}

	switch c.Credentials.Mode {
	case ModeCookie:
	case ModeBearer:
		if strings.TrimSpace(c.Credentials.HeaderName) == "" {
			return errors.New("Credentials HeaderName is required in bearer mode")
		}
	default:
		return errors.New("Credentials Mode must be 'cookie' or 'bearer'")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return errors.New("RateLimit RequestsPerSecond must be > 0 when enabled")
		}
		if c.RateLimit.Burst < 1 {
			return errors.New("RateLimit Burst must be >= 1 when enabled")
		}
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when events are enabled")
	}

	if c.Tracing.Transport && !c.Tracing.Enabled {
		return errors.New("Tracing Transport requires Tracing Enabled")
	}

	return nil
}
