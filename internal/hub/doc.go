// Package hub implements the downstream fan-out server.
//
// The broadcast Hub:
//   - Accepts WebSocket subscribers on a local listening port
//   - Tracks per-client topic interest via a subscribe/unsubscribe protocol
//   - Fans upstream market updates out to every interested open client
//   - Serves a read-only health endpoint
//
// Delivery is at-most-once best effort: a client whose connection has
// closed is skipped without error.
package hub
