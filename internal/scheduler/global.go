package scheduler

import (
	"context"
	"sync"

	"pushbridge/internal/presenter"
	"pushbridge/internal/storage"
)

var (
	globalMu sync.Mutex
	global   *Manager
)

// Init creates and starts the process-wide manager.
func Init(ctx context.Context, store storage.Store, p presenter.Presenter, opts ...Option) (*Manager, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return nil, ErrAlreadyInitialized
	}
	m := New(store, p, opts...)
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	global = m
	return m, nil
}

// Default returns the process-wide manager, or nil before Init.
func Default() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Shutdown stops and releases the process-wide manager. Init may be called again afterwards.
func Shutdown(ctx context.Context) error {
	globalMu.Lock()
	m := global
	global = nil
	globalMu.Unlock()
	if m == nil {
		return nil
	}
	return m.Shutdown(ctx)
}
