package authfetch

import (
	"context"
	"sync"
	"time"
)

// SessionExpiredEvent describes a request chain that ended with
// SessionExpiredError.
type SessionExpiredEvent struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	// Classification is the verdict on the request's last response.
	Classification Classification
	// Denial is set when the refresh endpoint refused the renewal.
	Denial DenialReason
	At     time.Time
}

// SessionExpiryNotifier is registered once by the host application. The
// client calls it exactly once per request chain that ends with
// SessionExpiredError, before that error is returned. Several sibling
// requests can each reach that state after one denied refresh, so
// implementations should be idempotent and cheap. Navigation, cookie
// cleanup, and similar reactions belong to the host.
type SessionExpiryNotifier interface {
	OnSessionExpired(ctx context.Context, event SessionExpiredEvent)
}

// NotifierFunc adapts a function to SessionExpiryNotifier.
type NotifierFunc func(ctx context.Context, event SessionExpiredEvent)

// OnSessionExpired calls f.
func (f NotifierFunc) OnSessionExpired(ctx context.Context, event SessionExpiredEvent) {
	f(ctx, event)
}

type noopNotifier struct{}

func (noopNotifier) OnSessionExpired(context.Context, SessionExpiredEvent) {}

// OnceNotifier forwards only the first notification until Reset. Hosts that
// want one logout signal per session, rather than one per failing request,
// wrap their handler with it and call Reset after the user signs in again.
type OnceNotifier struct {
	next  SessionExpiryNotifier
	mu    sync.Mutex
	fired bool
}

// NewOnceNotifier wraps next.
func NewOnceNotifier(next SessionExpiryNotifier) *OnceNotifier {
	if next == nil {
		next = noopNotifier{}
	}
	return &OnceNotifier{next: next}
}

// OnSessionExpired implements SessionExpiryNotifier.
func (n *OnceNotifier) OnSessionExpired(ctx context.Context, event SessionExpiredEvent) {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return
	}
	n.fired = true
	n.mu.Unlock()

	n.next.OnSessionExpired(ctx, event)
}

// Fired reports whether a notification has been forwarded since the last Reset.
func (n *OnceNotifier) Fired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fired
}

// Reset re-arms the notifier.
func (n *OnceNotifier) Reset() {
	n.mu.Lock()
	n.fired = false
	n.mu.Unlock()
}
