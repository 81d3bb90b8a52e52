package authfetch

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authfetch/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Builder assembles a Client. A Builder is single-use.
type Builder struct {
	config Config

	transport        Transport
	roundTripper     http.RoundTripper
	jar              http.CookieJar
	refreshTransport RefreshTransport
	notifier         SessionExpiryNotifier
	classifier       Classifier
	policy           RetryPolicy
	store            credentials.Store

	logger         *zap.Logger
	eventSink      EventSink
	tracerProvider trace.TracerProvider

	built bool
}

// New describes the new operation and its observable behavior.
//
// New starts from DefaultConfig. Nothing is allocated beyond the Builder
// until Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig copies cfg; later changes to the caller's value are not seen.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Config.BaseURL.
func (b *Builder) WithBaseURL(base string) *Builder {
	b.config.BaseURL = base
	return b
}

// WithTransport replaces the default HTTPTransport. Tests inject a
// TransportFunc here.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithRoundTripper sets the round tripper of the default HTTPTransport.
func (b *Builder) WithRoundTripper(rt http.RoundTripper) *Builder {
	b.roundTripper = rt
	return b
}

// WithCookieJar sets the jar of the default HTTPTransport.
func (b *Builder) WithCookieJar(jar http.CookieJar) *Builder {
	b.jar = jar
	return b
}

// WithRefreshTransport replaces the default HTTPRefreshTransport.
func (b *Builder) WithRefreshTransport(rt RefreshTransport) *Builder {
	b.refreshTransport = rt
	return b
}

// WithSessionExpiryNotifier registers the host's "session is gone" hook.
func (b *Builder) WithSessionExpiryNotifier(n SessionExpiryNotifier) *Builder {
	b.notifier = n
	return b
}

// WithClassifier replaces DefaultClassifier.
func (b *Builder) WithClassifier(c Classifier) *Builder {
	b.classifier = c
	return b
}

// WithRetryPolicy replaces BoundedRetryPolicy. Whatever the policy decides,
// a request is resent at most once.
func (b *Builder) WithRetryPolicy(p RetryPolicy) *Builder {
	b.policy = p
	return b
}

// WithCredentialStore sets the bearer-mode credential store and switches
// Config.Credentials.Mode to bearer.
func (b *Builder) WithCredentialStore(s credentials.Store) *Builder {
	b.store = s
	if s != nil {
		b.config.Credentials.Mode = ModeBearer
	}
	return b
}

// WithLogger sets the zap logger shared by the client, the refresh
// coordinator, and the event dispatcher. nil keeps the no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithEventSink sets the event sink and enables events.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	if sink != nil {
		b.config.Events.Enabled = true
	}
	return b
}

// WithTracerProvider sets the provider used when tracing is enabled and
// enables it. Without one the global provider is used.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	if tp != nil {
		b.config.Tracing.Enabled = true
	}
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, fills every unset collaborator with its
// default, and starts the event dispatcher when events are enabled.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case cfg.Credentials.Mode == ModeBearer && b.store == nil:
		return nil, errors.New("bearer mode requires a credential store")
	case cfg.Credentials.Mode == ModeCookie && b.store != nil:
		return nil, errors.New("credential store requires Credentials Mode 'bearer'")
	}
	if b.refreshTransport == nil && cfg.Refresh.Endpoint == "" {
		return nil, errors.New("Refresh Endpoint is required without a custom refresh transport")
	}

	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:     cloneConfig(cfg),
		base:       base,
		defaults:   defaultHeaders(cfg),
		transport:  b.transport,
		classifier: b.classifier,
		policy:     b.policy,
		notifier:   b.notifier,
		store:      b.store,
		logger:     b.logger,
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.classifier == nil {
		c.classifier = NewDefaultClassifier(cfg.Classifier)
	}
	if c.policy == nil {
		c.policy = BoundedRetryPolicy{}
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}

	// -------- TRACING --------
	if cfg.Tracing.Enabled {
		tp := b.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		c.tracer = tp.Tracer(tracerName)
	} else {
		c.tracer = noop.NewTracerProvider().Tracer(tracerName)
	}

	// -------- TRANSPORT --------
	if c.transport == nil {
		ht, err := NewHTTPTransport(HTTPTransportOptions{
			RoundTripper:     b.roundTripper,
			Jar:              b.jar,
			MaxResponseBytes: cfg.MaxResponseBytes,
			Tracing:          cfg.Tracing.Transport,
		})
		if err != nil {
			return nil, err
		}
		c.http = ht
		c.transport = ht
	}

	if cfg.RateLimit.Enabled {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	c.metrics = NewMetrics(cfg.Metrics)
	c.events = newEventDispatcher(cfg.Events, b.eventSink, c.logger)

	// -------- REFRESH --------
	rt := b.refreshTransport
	if rt == nil {
		hrt, err := NewHTTPRefreshTransport(c.transport, cfg, b.store)
		if err != nil {
			c.events.Close()
			return nil, err
		}
		rt = hrt
	}
	c.refresh = newRefreshCoordinator(rt, cfg.Refresh.Timeout, c.logger, c.metrics, c.events, c.tracer)
	c.logger = c.logger.With(zap.String("component", "client"))

	b.built = true

	return c, nil
}
