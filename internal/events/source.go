// Package events adapts named worker notification topics into typed
// payloads. A Source delivers raw topic data; Channel decodes it.
package events

import (
	"context"
	"sync"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Handler receives the raw data of one topic delivery.
type Handler func(data ...interface{})

// Source delivers topic events to subscribers. The returned function
// unsubscribes the handler.
type Source interface {
	Subscribe(topic string, handler Handler) func()
}

// Hub is an in-process Source. The worker connection republishes its event
// frames here, and tests emit synthetic events through it.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers handler for topic.
func (h *Hub) Subscribe(topic string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]Handler)
	}
	h.subs[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[topic], id)
		})
	}
}

// Emit delivers data to every subscriber of topic on the caller's goroutine.
func (h *Hub) Emit(topic string, data ...interface{}) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[topic]))
	for _, handler := range h.subs[topic] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(data...)
	}
}

// WailsSource subscribes through the desktop host runtime event bus.
type WailsSource struct {
	ctx context.Context
}

// NewWailsSource binds a source to the runtime context passed to OnStartup.
func NewWailsSource(ctx context.Context) *WailsSource {
	return &WailsSource{ctx: ctx}
}

// Subscribe registers handler with the host runtime.
func (s *WailsSource) Subscribe(topic string, handler Handler) func() {
	return wailsruntime.EventsOn(s.ctx, topic, func(optionalData ...interface{}) {
		handler(optionalData...)
	})
}
