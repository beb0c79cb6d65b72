package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"connectd/core"

	"github.com/google/uuid"
)

// MemoryRepository keeps connections in process memory. Records are cloned
// on the way in and out so callers never share pointers with the store.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*core.Connection
	byPair map[core.SessionKey]uuid.UUID
}

func NewMemoryRepository(conns ...*core.Connection) *MemoryRepository {
	r := &MemoryRepository{
		byID:   make(map[uuid.UUID]*core.Connection),
		byPair: make(map[core.SessionKey]uuid.UUID),
	}
	for _, c := range conns {
		r.put(c.Clone())
	}
	return r
}

func (r *MemoryRepository) put(c *core.Connection) {
	r.byID[c.ID] = c
	r.byPair[core.SessionKey{UserID: c.UserID, Provider: c.Provider}] = c.ID
}

func (r *MemoryRepository) Upsert(ctx context.Context, conn *core.Connection) (*core.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := conn.Clone()
	key := core.SessionKey{UserID: conn.UserID, Provider: conn.Provider}
	if id, ok := r.byPair[key]; ok {
		existing := r.byID[id]
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	} else {
		if next.ID == uuid.Nil {
			next.ID = uuid.New()
		}
		if _, taken := r.byID[next.ID]; taken {
			return nil, core.ErrAlreadyExists
		}
	}

	r.put(next)
	return next.Clone(), nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return conn.Clone(), nil
}

func (r *MemoryRepository) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider core.Provider) (*core.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPair[core.SessionKey{UserID: userID, Provider: provider}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*core.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := []*core.Connection{}
	for _, c := range r.byID {
		if c.UserID == userID {
			conns = append(conns, c.Clone())
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Provider < conns[j].Provider })
	return conns, nil
}

func (r *MemoryRepository) ListConnectedUsers(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var users []uuid.UUID
	for _, c := range r.byID {
		if c.Connected && !seen[c.UserID] {
			seen[c.UserID] = true
			users = append(users, c.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users, nil
}

func (r *MemoryRepository) Disconnect(ctx context.Context, id uuid.UUID, reason core.DisconnectReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return core.ErrNotFound
	}
	conn.Connected = false
	conn.DisconnectReason = reason
	conn.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, id uuid.UUID, profile *core.Profile, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok || !conn.Connected {
		return core.ErrNotFound
	}
	next := conn.Clone()
	next.ApplyProfile(profile)
	next.UpdatedAt = at
	r.byID[id] = next
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
