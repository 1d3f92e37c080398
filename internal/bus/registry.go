package bus

import (
	"sync"
)

// Subscriber receives serialized lifecycle events for one order.
// A non-nil error from Send drops the subscriber from the registry.
type Subscriber interface {
	Send(message []byte) error
}

// Registry maps an order id to its set of live subscribers. It is
// constructed once per process and injected wherever fan-out happens;
// there is no package-level instance.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[Subscriber]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[Subscriber]struct{})}
}

// Subscribe registers a handle under the order id, creating the set lazily.
func (r *Registry) Subscribe(orderID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[orderID]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.subs[orderID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes a handle; an emptied set is deleted so the
// registry never grows unbounded.
func (r *Registry) Unsubscribe(orderID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[orderID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.subs, orderID)
	}
}

// Subscribers returns a snapshot of the current set for an order id.
func (r *Registry) Subscribers(orderID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subs[orderID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

// Count reports how many subscribers an order currently has.
func (r *Registry) Count(orderID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[orderID])
}
