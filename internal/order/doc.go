// Package order defines the order, position, and orderbook value types
// returned by the venue, plus an in-memory store of working orders.
//
// Conventions:
//   - Prices and amounts: float64, as the venue quotes them
//   - Timestamps: int64 milliseconds since Unix epoch (venue convention)
//   - Labels: client-assigned uuid strings
package order
