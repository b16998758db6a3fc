// Package events carries process-wide token refresh notifications between
// the upstream HTTP client and the session store without coupling the two.
package events

import (
	"sort"
	"sync"
)

// TokenRefreshed is published when an expired access token has been silently
// renewed by the upstream client.
type TokenRefreshed struct {
	Token        string
	RefreshToken string
}

// Handler consumes token refresh events.
type Handler func(TokenRefreshed)

// Broker is a small pub/sub channel for TokenRefreshed events. Publish
// dispatches to handlers sequentially in subscription order; there is no
// acknowledgement and no delivery guarantee beyond that ordering.
type Broker struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a function that removes it again.
func (b *Broker) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers the event to every subscribed handler. Handlers run on the
// caller's goroutine, outside the broker lock.
func (b *Broker) Publish(ev TokenRefreshed) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
