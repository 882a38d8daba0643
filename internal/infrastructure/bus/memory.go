package bus

import "sync"

// Memory is an in-process event bus.
//
// It is the fallback when no MQTT broker is configured, and the natural
// choice in tests. Events are dispatched synchronously in the caller's
// goroutine; handler registration is copied out before dispatch so
// handlers may fire or subscribe re-entrantly.
//
// Thread Safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{
		handlers: make(map[string]map[int]Handler),
	}
}

// Fire delivers an event to every handler subscribed to its exact name.
func (m *Memory) Fire(event string, payload map[string]any) error {
	if event == "" {
		return ErrInvalidEvent
	}

	m.mu.RLock()
	registered := m.handlers[event]
	handlers := make([]Handler, 0, len(registered))
	for _, fn := range registered {
		handlers = append(handlers, fn)
	}
	m.mu.RUnlock()

	for _, fn := range handlers {
		fn(event, payload)
	}
	return nil
}

// Subscribe registers a handler for an exact event name and returns a
// detach function. Detaching is idempotent.
func (m *Memory) Subscribe(event string, fn Handler) (func(), error) {
	if event == "" {
		return nil, ErrInvalidEvent
	}
	if fn == nil {
		return nil, ErrSubscribeFailed
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	m.handlers[event][id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if hs, ok := m.handlers[event]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(m.handlers, event)
			}
		}
	}, nil
}

// SubscriptionCount returns the number of handlers registered for an event.
func (m *Memory) SubscriptionCount(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}
