package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// ConnectionStore is the single source of truth for connection records.
type ConnectionStore interface {
	// Upsert writes by (UserID, Provider). An existing record keeps its ID and CreatedAt.
	Upsert(ctx context.Context, conn *Connection) (*Connection, error)

	FindByID(ctx context.Context, id uuid.UUID) (*Connection, error)

	FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider Provider) (*Connection, error)

	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error)

	// ListConnectedUsers returns every user holding at least one connected record.
	ListConnectedUsers(ctx context.Context) ([]uuid.UUID, error)

	Disconnect(ctx context.Context, id uuid.UUID, reason DisconnectReason, at time.Time) error

	// UpdateProfile writes profile metrics and updated_at onto a connected
	// record. Tokens and connection status are left alone. It returns
	// ErrNotFound when no connected record has that id.
	UpdateProfile(ctx context.Context, id uuid.UUID, profile *Profile, at time.Time) error
}

// SessionStore holds ephemeral auth sessions. Get and Take return
// ErrNotFound for missing or expired entries.
type SessionStore interface {
	Set(ctx context.Context, key SessionKey, session *AuthSession, ttl time.Duration) error

	Get(ctx context.Context, key SessionKey) (*AuthSession, error)

	// Take returns the session and deletes it in one step. Of two concurrent
	// callers for the same key at most one gets the session.
	Take(ctx context.Context, key SessionKey) (*AuthSession, error)

	Delete(ctx context.Context, key SessionKey) error
}
