package authfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DenialReason says why a refresh did not renew the session.
type DenialReason uint8

const (
	// DenialNone is the zero value carried by a Renewed outcome.
	DenialNone DenialReason = iota
	// DenialRefreshInvalid means the refresh credential itself is dead (401/403).
	DenialRefreshInvalid
	// DenialTransient covers network errors, timeouts, and other statuses.
	DenialTransient
)

func (r DenialReason) String() string {
	switch r {
	case DenialNone:
		return "none"
	case DenialRefreshInvalid:
		return "refresh_invalid"
	case DenialTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// RefreshOutcome is the resolution of one shared refresh.
type RefreshOutcome struct {
	Renewed bool
	Denial  DenialReason
	// Status is the refresh endpoint's status, 0 when no response arrived.
	Status int
	Err    error
	// Shared is true when the outcome was delivered to more than one waiter,
	// or when a renewal that already happened was reused.
	Shared bool
	// Generation counts renewals; it is set on Renewed outcomes.
	Generation uint64
	RefreshID  string
}

// RefreshTransport performs the dedicated "renew session" call.
//
// A nil error with a response lets the coordinator classify the status. An
// error wrapping ErrRefreshCredentialInvalid is treated like a 401; any other
// error is transient.
type RefreshTransport interface {
	Renew(ctx context.Context) (*Response, error)
}

// RefreshFunc adapts a function to RefreshTransport.
type RefreshFunc func(ctx context.Context) (*Response, error)

// Renew calls f.
func (f RefreshFunc) Renew(ctx context.Context) (*Response, error) {
	return f(ctx)
}

const refreshKey = "refresh"

// RefreshCoordinator owns the single in-flight refresh. Any number of
// requests may call Refresh concurrently; at most one Renew call is in
// flight at a time and every waiter observes its outcome.
type RefreshCoordinator struct {
	transport RefreshTransport
	timeout   time.Duration

	group      singleflight.Group
	generation atomic.Uint64
	last       atomic.Pointer[RefreshOutcome]
	inFlight   atomic.Bool

	// beforeJoin, when set, runs between the reuse check and the join.
	beforeJoin func()

	logger  *zap.Logger
	metrics *Metrics
	events  *eventDispatcher
	tracer  trace.Tracer
}

func newRefreshCoordinator(transport RefreshTransport, timeout time.Duration, logger *zap.Logger, metrics *Metrics, events *eventDispatcher, tracer trace.Tracer) *RefreshCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &RefreshCoordinator{
		transport: transport,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "refresh")),
		metrics:   metrics,
		events:    events,
		tracer:    tracer,
	}
}

// Generation returns the number of renewals so far. A request captures it
// before sending so a late 401 can tell whether the session was already
// renewed underneath it.
func (c *RefreshCoordinator) Generation() uint64 {
	return c.generation.Load()
}

// InFlight reports whether a refresh is currently running.
func (c *RefreshCoordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Refresh joins the in-flight refresh or starts one.
//
// observed is the generation the caller saw before sending the request that
// failed; when a renewal has completed since, the caller is told to resend
// without another network call.
//
// The returned error is non-nil only when ctx ends first. The shared refresh
// keeps running for the remaining waiters.
func (c *RefreshCoordinator) Refresh(ctx context.Context, observed uint64) (RefreshOutcome, error) {
	for {
		if out, ok := c.reusable(observed); ok {
			c.metrics.Inc(MetricRefreshReused)
			return out, nil
		}
		if c.beforeJoin != nil {
			c.beforeJoin()
		}

		ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
			// A renewal may have finished between the check above and this
			// call becoming the leader.
			if out, ok := c.reusable(observed); ok {
				c.metrics.Inc(MetricRefreshReused)
				return out, nil
			}
			return c.run(ctx), nil
		})

		select {
		case res := <-ch:
			out, _ := res.Val.(RefreshOutcome)
			if out.Renewed && out.Generation <= observed {
				// A joined leader reused a renewal this caller already saw.
				continue
			}
			if res.Shared {
				out.Shared = true
			}
			return out, nil
		case <-ctx.Done():
			c.metrics.Inc(MetricRefreshAbandoned)
			return RefreshOutcome{}, ctx.Err()
		}
	}
}

func (c *RefreshCoordinator) reusable(observed uint64) (RefreshOutcome, bool) {
	last := c.last.Load()
	if last == nil || last.Generation <= observed {
		return RefreshOutcome{}, false
	}
	out := *last
	out.Shared = true
	return out, true
}

// run executes one refresh on behalf of every waiter. It detaches from the
// initiator's cancellation; only the refresh timeout can end it.
func (c *RefreshCoordinator) run(initiator context.Context) RefreshOutcome {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	refreshID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(initiator), c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "authfetch.refresh",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("authfetch.refresh_id", refreshID)),
	)
	defer span.End()

	c.metrics.Inc(MetricRefreshStarted)
	c.events.Emit(ctx, Event{
		Type:      EventRefreshStarted,
		RequestID: requestIDFromContext(initiator),
		Metadata:  map[string]string{"refresh_id": refreshID},
	})

	start := time.Now()
	resp, err := c.renew(ctx)
	c.metrics.Observe(MetricRefreshLatency, time.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		// A response that arrives after the deadline is not trusted.
		resp, err = nil, ctxErr
	}
	out := classifyRefresh(ctx, resp, err)
	out.RefreshID = refreshID
	if out.Renewed {
		out.Generation = c.generation.Add(1)
		renewed := out
		c.last.Store(&renewed)
	}

	span.SetAttributes(
		attribute.Bool("authfetch.renewed", out.Renewed),
		attribute.String("authfetch.denial", out.Denial.String()),
		attribute.Int("http.response.status_code", out.Status),
	)
	c.record(ctx, initiator, out, time.Since(start))
	if !out.Renewed {
		span.SetStatus(codes.Error, out.Denial.String())
	}
	return out
}

type renewResult struct {
	resp *Response
	err  error
}

// renew bounds the transport call by ctx even when the transport ignores
// it. An abandoned call finishes in the background and its result is
// discarded.
func (c *RefreshCoordinator) renew(ctx context.Context) (*Response, error) {
	done := make(chan renewResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- renewResult{err: fmt.Errorf("refresh transport panicked: %v", r)}
			}
		}()
		resp, err := c.transport.Renew(ctx)
		done <- renewResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RefreshCoordinator) record(ctx, initiator context.Context, out RefreshOutcome, took time.Duration) {
	fields := []zap.Field{
		zap.String("refresh_id", out.RefreshID),
		zap.Int("status", out.Status),
		zap.Duration("took", took),
	}
	if out.Renewed {
		c.metrics.Inc(MetricRefreshRenewed)
		c.logger.Info("session renewed", append(fields, zap.Uint64("generation", out.Generation))...)
		c.events.Emit(ctx, Event{
			Type:       EventRefreshRenewed,
			RequestID:  requestIDFromContext(initiator),
			Status:     out.Status,
			Generation: out.Generation,
			Success:    true,
			Metadata:   map[string]string{"refresh_id": out.RefreshID},
		})
		return
	}

	switch out.Denial {
	case DenialRefreshInvalid:
		c.metrics.Inc(MetricRefreshDeniedInvalid)
	default:
		c.metrics.Inc(MetricRefreshDeniedTransient)
	}
	c.logger.Info("session refresh denied",
		append(fields, zap.String("reason", out.Denial.String()), zap.Error(out.Err))...)
	c.events.Emit(ctx, Event{
		Type:      EventRefreshDenied,
		RequestID: requestIDFromContext(initiator),
		Status:    out.Status,
		Error:     errString(out.Err),
		Metadata: map[string]string{
			"refresh_id": out.RefreshID,
			"reason":     out.Denial.String(),
		},
	})
}

func classifyRefresh(ctx context.Context, resp *Response, err error) RefreshOutcome {
	if err != nil {
		if errors.Is(err, ErrRefreshCredentialInvalid) {
			return RefreshOutcome{Denial: DenialRefreshInvalid, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil && isTimeout(ctxErr) {
			err = fmt.Errorf("refresh timed out: %w", err)
		}
		return RefreshOutcome{Denial: DenialTransient, Err: err}
	}
	if resp == nil {
		return RefreshOutcome{Denial: DenialTransient, Err: errors.New("refresh transport returned no response")}
	}

	out := RefreshOutcome{Status: resp.StatusCode}
	switch {
	case resp.OK():
		out.Renewed = true
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		out.Denial = DenialRefreshInvalid
		out.Err = fmt.Errorf("refresh endpoint answered %d", resp.StatusCode)
	default:
		out.Denial = DenialTransient
		out.Err = fmt.Errorf("refresh endpoint answered %d", resp.StatusCode)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
