// Package jwt reads and issues the JWT credentials a storefront backend hands
// out.
//
// The client side only ever needs [Expiry]: an unverified read of the exp
// claim so a credential store can size its TTL. [Manager] signs and verifies
// access and refresh tokens for the in-process storefront backend used by
// tests, the load generator, and the examples.
//
// # What this package must NOT do
//
//   - Import authfetch or credentials (no upward imports).
//   - Treat an unverified Expiry read as proof of anything.
package jwt
