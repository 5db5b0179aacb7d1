// Package event implements the synchronous publisher that fans events
// out to subscribed handlers after the command bus has appended them.
package event

import (
	"slices"
	"sync"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
)

// HandlerRegistry tracks which handlers receive which event types.
// Safe for concurrent registration and lookup.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[cqrs.EventType][]cqrs.EventHandler
	wildcard []cqrs.EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[cqrs.EventType][]cqrs.EventHandler),
	}
}

// Register adds a handler for one event type. Registering under the
// wildcard type subscribes the handler to every event.
func (r *HandlerRegistry) Register(eventType cqrs.EventType, handler cqrs.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eventType == cqrs.EventTypeWildcard {
		r.wildcard = append(r.wildcard, handler)
		return
	}
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

// HandlersFor returns the handlers subscribed to eventType, with
// wildcard subscribers appended last.
func (r *HandlerRegistry) HandlersFor(eventType cqrs.EventType) []cqrs.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Concat(r.handlers[eventType], r.wildcard)
}
