package transport

import (
	"encoding/json"
	"sync"
	"time"
)

// Result completes a pending request: either the raw result payload or
// an error (RPC error, timeout, or connection loss).
type Result struct {
	Data json.RawMessage
	Err  error
}

// pendingRequest is a request awaiting its correlated response.
type pendingRequest struct {
	id       int64
	issuedAt time.Time
	done     chan Result
}

// Correlator matches outgoing request ids to their async responses.
// Ids are strictly increasing from 1 for the lifetime of the owning
// Transport; a new Transport gets a fresh Correlator.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[int64]*pendingRequest),
	}
}

// Register assigns the next request id and returns it together with
// the channel the matching response will be delivered on.
func (c *Correlator) Register() (int64, <-chan Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	p := &pendingRequest{
		id:       c.nextID,
		issuedAt: time.Now(),
		done:     make(chan Result, 1),
	}
	c.pending[p.id] = p
	return p.id, p.done
}

// Resolve completes the pending request with the given id. Resolving
// an unknown id is a no-op and reports false.
func (c *Correlator) Resolve(id int64, data json.RawMessage) bool {
	return c.complete(id, Result{Data: data})
}

// Reject fails the pending request with the given id. Rejecting an
// unknown id is a no-op and reports false.
func (c *Correlator) Reject(id int64, err error) bool {
	return c.complete(id, Result{Err: err})
}

func (c *Correlator) complete(id int64, res Result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.done <- res
	return true
}

// Forget removes a pending request without completing it. Used when
// the caller stopped waiting (context cancellation).
func (c *Correlator) Forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// DrainAll rejects every pending request with err and empties the map.
// Invoked on every disconnect so no request outlives its connection.
func (c *Correlator) DrainAll(err error) {
	c.mu.Lock()
	drained := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		drained = append(drained, p)
	}
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range drained {
		p.done <- Result{Err: err}
	}
}

// Pending returns the number of requests awaiting responses.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
