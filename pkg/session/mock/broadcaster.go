package sessionmock

import (
	"context"
	"sync"
)

// Hub connects in-process Broadcaster endpoints. Publishing on one endpoint
// invokes the handlers of every other endpoint, mirroring how storage-event
// style transports never deliver a write back to its writer.
type Hub struct {
	mu        sync.Mutex
	endpoints []*Broadcaster
}

func NewHub() *Hub {
	return &Hub{}
}

// Endpoint returns a new Broadcaster attached to the hub.
func (h *Hub) Endpoint() *Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := &Broadcaster{hub: h, handlers: make(map[string][]func(context.Context))}
	h.endpoints = append(h.endpoints, b)

	return b
}

type Broadcaster struct {
	hub      *Hub
	mu       sync.Mutex
	handlers map[string][]func(context.Context)

	PublishErr   error
	SubscribeErr error
}

func (b *Broadcaster) Publish(ctx context.Context, topic string) error {
	if b.PublishErr != nil {
		return b.PublishErr
	}

	b.hub.mu.Lock()
	endpoints := make([]*Broadcaster, len(b.hub.endpoints))
	copy(endpoints, b.hub.endpoints)
	b.hub.mu.Unlock()

	for _, endpoint := range endpoints {
		if endpoint == b {
			continue
		}
		endpoint.deliver(ctx, topic)
	}

	return nil
}

func (b *Broadcaster) Subscribe(ctx context.Context, topic string, handler func(ctx context.Context)) error {
	if b.SubscribeErr != nil {
		return b.SubscribeErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)

	return nil
}

// Deliver invokes the endpoint's own handlers for a topic, as if a marker
// arrived from elsewhere. Tests use it to replay broadcasts.
func (b *Broadcaster) Deliver(ctx context.Context, topic string) {
	b.deliver(ctx, topic)
}

func (b *Broadcaster) deliver(ctx context.Context, topic string) {
	b.mu.Lock()
	handlers := make([]func(context.Context), len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx)
	}
}
