package storage

import (
	"context"
	"sync"

	"pushbridge/internal/schedule"
)

// Memory is a non-durable Store. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	m      map[string]schedule.Model
	closed bool
}

func NewMemory() *Memory {
	return &Memory{m: map[string]schedule.Model{}}
}

func (s *Memory) Put(ctx context.Context, m schedule.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m[m.ID] = m.Clone()
	return nil
}

func (s *Memory) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.m[id]
	delete(s.m, id)
	return ok, nil
}

func (s *Memory) Get(ctx context.Context, id string) (schedule.Model, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schedule.Model{}, false, ErrClosed
	}
	m, ok := s.m[id]
	return m.Clone(), ok, nil
}

func (s *Memory) List(ctx context.Context) ([]schedule.Model, error) {
	return s.list(func(schedule.Model) bool { return true })
}

func (s *Memory) ListByOwner(ctx context.Context, owner string) ([]schedule.Model, error) {
	return s.list(func(m schedule.Model) bool { return m.Owner == owner })
}

func (s *Memory) list(keep func(schedule.Model) bool) ([]schedule.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]schedule.Model, 0, len(s.m))
	for _, m := range s.m {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	sortModels(out)
	return out, nil
}

func (s *Memory) RemoveByOwner(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for id, m := range s.m {
		if m.Owner == owner {
			delete(s.m, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
