package session

import (
	"context"
	"sync"
	"time"

	"connectd/core"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps auth sessions in process memory. Entries expire on
// their own after the TTL given to Set.
type MemoryStore struct {
	mu sync.Mutex // serializes Take against Set and Delete
	c  *gocache.Cache
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = core.DefaultSessionTTL
	}
	return &MemoryStore{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *MemoryStore) Set(ctx context.Context, key core.SessionKey, s *core.AuthSession, ttl time.Duration) error {
	stored := *s

	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(key.String(), &stored, ttl)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key core.SessionKey) (*core.AuthSession, error) {
	return m.lookup(key)
}

func (m *MemoryStore) Take(ctx context.Context, key core.SessionKey) (*core.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(key)
	m.c.Delete(key.String())
	return s, err
}

func (m *MemoryStore) Delete(ctx context.Context, key core.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Delete(key.String())
	return nil
}

func (m *MemoryStore) lookup(key core.SessionKey) (*core.AuthSession, error) {
	v, ok := m.c.Get(key.String())
	if !ok {
		return nil, core.ErrNotFound
	}
	s, ok := v.(*core.AuthSession)
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *s
	return &out, nil
}
