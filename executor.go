package authfetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authfetch/credentials"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Do sends req and returns its 2xx response, renewing the session at most
// once on the way.
//
// Errors:
//   - *TransportError: no response was received. Never retried.
//   - *HTTPError: a non-2xx response that is not an auth failure the client
//     handles, returned untouched.
//   - *SessionExpiredError: the session cannot be renewed. The registered
//     SessionExpiryNotifier has already been called once for this request.
//   - *RefreshTransientError: the renewal failed for a reason unrelated to
//     credential validity.
//   - ctx.Err() when ctx ends while waiting on a shared refresh.
//
// Requests with CredentialsOmit never trigger a refresh.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	requestID := requestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = WithRequestID(ctx, requestID)
	}

	ctx, span := c.tracer.Start(ctx, "authfetch.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.method),
			attribute.String("url.path", req.path),
			attribute.String("authfetch.request_id", requestID),
			attribute.String("authfetch.credentials", req.credentials.String()),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.execute(ctx, req, requestID)
	c.metrics.Observe(MetricRequestLatency, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// execute is the per-request state machine. attempts is the private
// AttemptState: refresh-driven resends spent so far.
func (c *Client) execute(ctx context.Context, req *Request, requestID string) (*Response, error) {
	attempts := 0
	for {
		observed := c.refresh.Generation()

		resp, err := c.send(ctx, req, requestID, attempts)
		if err != nil {
			return nil, err
		}
		if resp.OK() {
			c.metrics.Inc(MetricRequestSuccess)
			return resp, nil
		}

		if req.credentials == CredentialsOmit {
			return nil, c.fail(req, resp)
		}

		class := safeClassify(c.classifier, resp)
		switch class {
		case ClassExpired:
			c.metrics.Inc(MetricAuthExpired)
		case ClassInvalid:
			c.metrics.Inc(MetricAuthInvalid)
		}

		decision := c.policy.Decide(class, attempts)
		if decision == DecisionRetry && attempts >= maxRefreshRetries {
			// The resend is terminal whatever a custom policy says.
			decision = BoundedRetryPolicy{}.Decide(class, attempts)
		}

		switch decision {
		case DecisionGiveUpSessionExpired:
			return nil, c.expire(ctx, req, requestID, resp, class, RefreshOutcome{})

		case DecisionRetry:
			out, err := c.refresh.Refresh(ctx, observed)
			if err != nil {
				return nil, err
			}

			next := c.policy.Escalate(out)
			if next == DecisionRetry && !out.Renewed {
				next = BoundedRetryPolicy{}.Escalate(out)
			}
			switch next {
			case DecisionRetry:
				attempts++
				c.retrying(ctx, req, requestID, resp, out)
				continue
			case DecisionGiveUpSessionExpired:
				return nil, c.expire(ctx, req, requestID, resp, class, out)
			default:
				if out.Renewed {
					return nil, c.fail(req, resp)
				}
				c.metrics.Inc(MetricRefreshTransient)
				c.logger.Info("request failed: session refresh transient failure",
					zap.String("request_id", requestID),
					zap.String("method", req.method),
					zap.String("path", req.path),
					zap.String("refresh_id", out.RefreshID),
					zap.Error(out.Err),
				)
				return nil, &RefreshTransientError{RequestID: requestID, Status: out.Status, Err: out.Err}
			}

		default:
			return nil, c.fail(req, resp)
		}
	}
}

// send performs one network send with its own timeout.
func (c *Client) send(ctx context.Context, req *Request, requestID string, attempt int) (*Response, error) {
	target, err := resolveURL(c.base, req.path)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.Inc(MetricTransportError)
			return nil, &TransportError{Method: req.method, URL: target, Err: err}
		}
	}

	sendCtx, cancel := sendTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	httpReq, err := req.build(sendCtx, c.base, c.defaults)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set(requestIDHeader, requestID)
	if req.credentials == CredentialsInclude {
		c.attachBearer(ctx, httpReq.Header)
	}

	start := time.Now()
	resp, err := c.transport.Send(sendCtx, httpReq, req.credentials)
	took := time.Since(start)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	if err != nil {
		c.metrics.Inc(MetricTransportError)
		c.logger.Debug("send failed",
			zap.String("request_id", requestID),
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("attempt", attempt),
			zap.Duration("took", took),
			zap.Error(err),
		)
		return nil, &TransportError{Method: req.method, URL: target, Err: err}
	}

	c.logger.Debug("send",
		zap.String("request_id", requestID),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("attempt", attempt),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", took),
	)
	return resp, nil
}

func (c *Client) attachBearer(ctx context.Context, h http.Header) {
	if c.store == nil {
		return
	}
	name := c.config.Credentials.HeaderName
	if h.Get(name) != "" {
		return
	}
	sess, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, credentials.ErrNoSession) {
			c.logger.Warn("credential store load failed", zap.Error(err))
		}
		return
	}
	value := sess.AccessToken
	if scheme := c.config.Credentials.Scheme; scheme != "" {
		value = scheme + " " + value
	}
	h.Set(name, value)
}

func (c *Client) retrying(ctx context.Context, req *Request, requestID string, resp *Response, out RefreshOutcome) {
	c.metrics.Inc(MetricRetrySent)
	c.logger.Debug("resending after session renewal",
		zap.String("request_id", requestID),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Uint64("generation", out.Generation),
		zap.Bool("shared", out.Shared),
	)
	c.events.Emit(ctx, Event{
		Type:       EventRequestRetry,
		RequestID:  requestID,
		Method:     req.method,
		Path:       req.path,
		Status:     resp.StatusCode,
		Generation: out.Generation,
		Success:    true,
	})
}

func (c *Client) fail(req *Request, resp *Response) error {
	c.metrics.Inc(MetricRequestFailure)
	target, _ := resolveURL(c.base, req.path)
	return &HTTPError{
		Method:     req.method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}
}

// expire ends a request chain in SessionExpiredOut: notifier first, then the
// distinguished error.
func (c *Client) expire(ctx context.Context, req *Request, requestID string, resp *Response, class Classification, out RefreshOutcome) error {
	status := resp.StatusCode
	target, _ := resolveURL(c.base, req.path)
	cause := error(&HTTPError{
		Method:     req.method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	})
	if out.Denial != DenialNone {
		if out.Status != 0 {
			status = out.Status
		}
		cause = out.Err
	}

	c.metrics.Inc(MetricSessionExpired)
	c.logger.Warn("session expired",
		zap.String("request_id", requestID),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", status),
		zap.String("classification", class.String()),
		zap.String("denial", out.Denial.String()),
	)
	c.events.Emit(ctx, Event{
		Type:      EventSessionExpired,
		RequestID: requestID,
		Method:    req.method,
		Path:      req.path,
		Status:    status,
		Error:     errString(cause),
		Metadata: map[string]string{
			"classification": class.String(),
			"denial":         out.Denial.String(),
		},
	})

	c.notify(ctx, SessionExpiredEvent{
		RequestID:      requestID,
		Method:         req.method,
		Path:           req.path,
		Status:         status,
		Classification: class,
		Denial:         out.Denial,
		At:             time.Now(),
	})

	return &SessionExpiredError{RequestID: requestID, Status: status, Cause: cause}
}

func (c *Client) notify(ctx context.Context, event SessionExpiredEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session expiry notifier panicked",
				zap.String("request_id", event.RequestID),
				zap.Any("panic", r),
			)
		}
	}()
	c.notifier.OnSessionExpired(ctx, event)
}
