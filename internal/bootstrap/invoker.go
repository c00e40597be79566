package bootstrap

import (
	"context"
	"encoding/json"
	"sync"

	"media-grabber/internal/worker"
)

// switchInvoker forwards calls to whichever worker connection is current,
// so jobs and downloads survive reconnects without being rebuilt.
type switchInvoker struct {
	mu      sync.RWMutex
	current worker.Invoker
}

func newSwitchInvoker() *switchInvoker {
	return &switchInvoker{current: worker.Unavailable{}}
}

// Set replaces the target of future calls; nil means unavailable.
func (s *switchInvoker) Set(inv worker.Invoker) {
	if inv == nil {
		inv = worker.Unavailable{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = inv
}

// Invoke calls the current target.
func (s *switchInvoker) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	s.mu.RLock()
	inv := s.current
	s.mu.RUnlock()
	return inv.Invoke(ctx, command, args)
}
