package advisory

import (
	"sync"
)

const defaultSubscriberBuffer = 8

// Hub fans out row changes to per-order subscribers. Slow subscribers miss
// updates instead of blocking writers. The last delivered row is kept only
// while an order has subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]map[chan Row]struct{}
	last   map[uint64]Row
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer rows.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[uint64]map[chan Row]struct{}),
		last:   make(map[uint64]Row),
		buffer: buffer,
	}
}

// Subscribe registers interest in orderID.
func (h *Hub) Subscribe(orderID uint64) (<-chan Row, func()) {
	ch := make(chan Row, h.buffer)
	h.mu.Lock()
	set := h.subs[orderID]
	if set == nil {
		set = make(map[chan Row]struct{})
		h.subs[orderID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[orderID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, orderID)
					delete(h.last, orderID)
				}
			}
			close(ch)
		})
	}
}

// Publish delivers row to the order's subscribers when its status differs
// from the last one delivered. It reports whether anyone was notified.
func (h *Hub) Publish(row Row) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[row.OrderID]
	if len(set) == 0 {
		return false
	}
	if prev, ok := h.last[row.OrderID]; ok && prev.Status == row.Status {
		return false
	}
	h.last[row.OrderID] = row
	for ch := range set {
		select {
		case ch <- row:
		default:
		}
	}
	return true
}

// Subscribers returns the number of active subscriptions for orderID.
func (h *Hub) Subscribers(orderID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderID])
}
