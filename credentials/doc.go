// Package credentials holds host-side session credential stores for bearer
// mode.
//
// In cookie mode the cookie jar is the store and this package is unused. In
// bearer mode the client reads the access credential from a [Store] before
// each send, and the refresh transport saves the rotated pair after a renewal.
//
// # Binary encoding
//
// [RedisStore] keeps sessions in a compact versioned binary format so several
// processes of the admin tool can share one renewed session. Decode accepts
// every version it has ever written.
//
// # What this package must NOT do
//
//   - Import authfetch (no upward imports).
//   - Decide whether a credential is valid; only the server does that.
package credentials
