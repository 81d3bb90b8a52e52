// Package storefronttest is an in-process fake of the storefront admin
// backend, for integration tests, the load test command and the examples.
//
// It issues HS256 access and refresh tokens through [jwt.Manager], accepts
// them as cookies or bearer headers, and answers a guarded route with 401
// {"reason":"expired"} when the access token has expired and 401
// {"reason":"invalid"} for anything else wrong with it. The refresh endpoint
// rotates both tokens; its latency and status can be forced, and every call
// is counted.
//
// # Clock
//
// Tokens are issued and verified against the server's clock. [Server.Advance]
// moves it forward so tests can expire a session without sleeping.
//
// # What this package must NOT do
//
//   - Import the client package. It plays the backend only.
//   - Persist anything beyond the process.
package storefronttest
