package bridge

import "sync"

// hub is a minimal publish/subscribe fan-out. Subscribers get their own
// buffered channel and an unsubscribe func; publishing never blocks, a
// slow subscriber drops messages rather than stalling the read pump.
type hub[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	buffer int
}

func newHub[T any](buffer int) *hub[T] {
	return &hub[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned func removes the
// subscription and closes its channel; it is safe to call more than once.
func (h *hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, h.buffer)
	h.subs[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish delivers v to every subscriber in registration order.
func (h *hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Len returns the number of active subscribers.
func (h *hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
