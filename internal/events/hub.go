package events

import (
	"context"
	"sync"
)

// MemoryHub keeps published events in process: a log of everything plus a
// per-employee inbox that a notifier drains with Consume.
type MemoryHub struct {
	mu      sync.Mutex
	log     []Event
	inboxes map[int64][]Event
	seen    map[string]struct{}
}

// NewMemoryHub constructs an in-memory hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		inboxes: make(map[int64][]Event),
		seen:    make(map[string]struct{}),
	}
}

// Publish implements Publisher. Redelivery of an event id is ignored.
func (h *MemoryHub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.seen[ev.ID]; dup {
		return nil
	}
	h.seen[ev.ID] = struct{}{}
	h.log = append(h.log, ev)
	for _, id := range ev.Recipients {
		h.inboxes[id] = append(h.inboxes[id], ev)
	}
	return nil
}

// Consume returns and clears the inbox of employeeID.
func (h *MemoryHub) Consume(employeeID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.inboxes[employeeID]
	delete(h.inboxes, employeeID)
	return out
}

// Events returns every event published so far.
func (h *MemoryHub) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.log...)
}

// OfType filters Events by type.
func (h *MemoryHub) OfType(t Type) []Event {
	var out []Event
	for _, ev := range h.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Fanout publishes to several publishers and returns the first error.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
