package authfetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired is matched by every *SessionExpiredError. Hosts branch on it to force a logout.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshTransient is matched by every *RefreshTransientError.
	ErrRefreshTransient = errors.New("session refresh failed transiently")
	// ErrRefreshCredentialInvalid signals from a RefreshTransport that the refresh credential itself is dead.
	ErrRefreshCredentialInvalid = errors.New("refresh credential invalid")
	// ErrHTTPStatus is matched by every *HTTPError.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrNilRequest is returned by Client.Do for a nil request.
	ErrNilRequest = errors.New("nil request")
	// ErrClientClosed is returned by Client.Do after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrResponseTooLarge is returned when a response body exceeds Config.MaxResponseBytes.
	ErrResponseTooLarge = errors.New("response body too large")
)

// TransportError is a network-level failure: no response was received.
// It is never retried by the client.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("authfetch: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response that is not an authentication failure
// handled by the client. Header and Body are the server's, untouched.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("authfetch: %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// SessionExpiredError is the single terminal error for "the session cannot
// be renewed". The notifier has already been invoked when a caller sees it.
type SessionExpiredError struct {
	RequestID string
	// Status is the status of the last response that led here: the original
	// request's, the resend's, or the refresh endpoint's.
	Status int
	Cause  error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authfetch: session expired (request %s, status %d): %v", e.RequestID, e.Status, e.Cause)
	}
	return fmt.Sprintf("authfetch: session expired (request %s, status %d)", e.RequestID, e.Status)
}

func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Cause
}

// RefreshTransientError means the renewal attempt failed for a reason
// unrelated to credential validity (network, timeout, 5xx). The caller may
// retry the whole operation later.
type RefreshTransientError struct {
	RequestID string
	Status    int
	Err       error
}

func (e *RefreshTransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authfetch: session refresh failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("authfetch: session refresh failed (status %d)", e.Status)
}

func (e *RefreshTransientError) Is(target error) bool {
	return target == ErrRefreshTransient
}

func (e *RefreshTransientError) Unwrap() error {
	return e.Err
}
