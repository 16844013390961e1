package order

import "sync"

// Store is an in-memory table of working orders, keyed by order id.
// It is a plain accessor layer: the session manager's results are fed
// into it by the process wiring, and it holds no resilience logic.
type Store struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		orders: make(map[string]Order),
	}
}

// Put inserts or replaces an order.
func (s *Store) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
}

// Get returns the order with the given id.
func (s *Store) Get(orderID string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	return o, ok
}

// Delete removes the order with the given id. Removing an unknown id
// is a no-op.
func (s *Store) Delete(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
}

// Open returns every order whose state is "open".
func (s *Store) Open() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.OrderState == "open" {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the number of stored orders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
