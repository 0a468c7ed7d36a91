package mcptransport

import (
	"sync"
)

// NotificationHandler receives server-initiated messages.
type NotificationHandler func(*Message)

// NotificationHub is a set of notification handlers. Dispatch calls them
// synchronously in registration order. The zero value is not usable; use
// NewNotificationHub.
type NotificationHub struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]NotificationHandler
	order    []uint64
}

// NewNotificationHub returns an empty hub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{handlers: make(map[uint64]NotificationHandler)}
}

// Subscribe adds fn and returns an idempotent func that removes it.
func (h *NotificationHub) Subscribe(fn NotificationHandler) func() {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.handlers[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
			h.mu.Unlock()
		})
	}
}

func (h *NotificationHub) Dispatch(msg *Message) {
	h.mu.Lock()
	fns := make([]NotificationHandler, 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.handlers[id])
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// Clear removes every handler.
func (h *NotificationHub) Clear() {
	h.mu.Lock()
	h.handlers = make(map[uint64]NotificationHandler)
	h.order = nil
	h.mu.Unlock()
}

// Len reports the number of registered handlers.
func (h *NotificationHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
