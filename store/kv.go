// Package store persists the current job identifier, its creation time and the selected locale
// in a small key-value store so they survive a restart of the client.
package store

import (
	"context"
	"sync"
)

// KV is the key-value contract every backend satisfies. Get reports absence with ok=false and a
// nil error.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

type MemoryKV struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{vals: make(map[string]string)}
}

func (s *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *MemoryKV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}

func (s *MemoryKV) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.vals, k)
	}
	return nil
}

func (s *MemoryKV) Close() error { return nil }
