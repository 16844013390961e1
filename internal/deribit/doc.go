// Package deribit implements the venue session manager.
//
// The session Manager:
//   - Exchanges credentials for access/refresh tokens over REST
//   - Retries authentication with capped exponential backoff and jitter
//   - Refreshes tokens ahead of expiry, collapsing concurrent refreshes
//   - Gates every remote call through one shared circuit breaker
//   - Submits, cancels, and modifies orders with bearer-token auth
//   - Owns the streaming transport for market-data subscriptions
package deribit
