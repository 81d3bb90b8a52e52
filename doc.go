// Package authfetch is an HTTP client for a session-authenticated backend that
// survives short-lived access credential expiry without a thundering herd.
//
// A [Client] sends each request once. When the response is a 401 the
// [Classifier] recognises as an expired access credential, the client asks
// the [RefreshCoordinator] to renew the session and resends the same request
// once. Any number of concurrently failing requests share a single refresh
// call. When renewal is impossible the registered [SessionExpiryNotifier] is
// called and the caller gets a [SessionExpiredError].
//
// Clients are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authfetch is the public surface: [Client], [Builder], [Config], the
// collaborator interfaces ([Transport], [RefreshTransport], [Classifier],
// [RetryPolicy], [SessionExpiryNotifier]) and the error taxonomy. Credential
// stores live in credentials/, token inspection in jwt/, exporters under
// metrics/export/.
//
// # What this package must NOT do
//
//   - Navigate, redirect, or log the user out. It only signals.
//   - Retry a failure that is not an expired access credential.
//   - Resend a request more than once.
//   - Let one caller's cancellation cancel a refresh other callers wait on.
package authfetch
