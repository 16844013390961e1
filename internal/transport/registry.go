package transport

import (
	"encoding/json"
	"reflect"
	"sort"
	"sync"
)

// Callback receives topic pushes for a subscribed channel.
type Callback func(channel string, data json.RawMessage)

// Registry tracks channel interest for the life of a session manager.
// It survives transport reconnects; Topics() drives the re-subscribe
// replay after each successful reconnect.
//
// Callbacks are deduplicated by function identity: subscribing the
// same callback to the same channel twice leaves a single entry.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[uintptr]Callback
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[string]map[uintptr]Callback),
	}
}

func callbackKey(cb Callback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// Subscribe adds (channel, cb) if not already present and reports
// whether this was the first subscriber for the channel, i.e. whether
// an upstream subscribe request is needed.
func (r *Registry) Subscribe(channel string, cb Callback) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[channel]
	if !ok {
		subs = make(map[uintptr]Callback)
		r.topics[channel] = subs
	}
	subs[callbackKey(cb)] = cb
	return !ok
}

// Unsubscribe removes (channel, cb), or every callback for the channel
// when cb is nil. It reports whether any subscribers remain, i.e.
// whether the upstream subscription is still needed. Removing a
// non-existent entry is a no-op.
func (r *Registry) Unsubscribe(channel string, cb Callback) (remaining bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[channel]
	if !ok {
		return false
	}

	if cb == nil {
		delete(r.topics, channel)
		return false
	}

	delete(subs, callbackKey(cb))
	if len(subs) == 0 {
		delete(r.topics, channel)
		return false
	}
	return true
}

// Callbacks returns a snapshot of the callbacks registered for a
// channel, for dispatch outside the registry lock.
func (r *Registry) Callbacks(channel string) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.topics[channel]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Callback, 0, len(subs))
	for _, cb := range subs {
		out = append(out, cb)
	}
	return out
}

// Topics returns the distinct subscribed channel set, sorted for
// deterministic replay.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics))
	for ch := range r.topics {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Subscribers returns the number of callbacks registered for a channel.
func (r *Registry) Subscribers(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[channel])
}
