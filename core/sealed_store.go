package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SealedStore encrypts provider tokens before they reach the backing store
// and decrypts them on the way out.
type SealedStore struct {
	inner  ConnectionStore
	crypto *CryptoService
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewSealedStore(inner ConnectionStore, crypto *CryptoService, clock clockwork.Clock, logger *zap.Logger) *SealedStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SealedStore{inner: inner, crypto: crypto, clock: clock, logger: logger.Named("sealed_store")}
}

func (s *SealedStore) Upsert(ctx context.Context, conn *Connection) (*Connection, error) {
	sealed := conn.Clone()

	var err error
	if sealed.AccessToken, err = s.crypto.EncryptToken(conn.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if sealed.RefreshToken, err = s.crypto.EncryptToken(conn.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	stored, err := s.inner.Upsert(ctx, sealed)
	if err != nil {
		return nil, err
	}
	return s.open(stored)
}

func (s *SealedStore) FindByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	conn, err := s.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(conn)
}

func (s *SealedStore) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider Provider) (*Connection, error) {
	conn, err := s.inner.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	return s.open(conn)
}

func (s *SealedStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error) {
	conns, err := s.inner.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		opened, err := s.open(c)
		if err != nil {
			opened = s.unreadable(ctx, c, err)
		}
		out = append(out, opened)
	}
	return out, nil
}

// unreadable disconnects a listed record whose tokens cannot be decrypted
// and returns it without tokens.
func (s *SealedStore) unreadable(ctx context.Context, conn *Connection, cause error) *Connection {
	s.logger.Error("stored tokens cannot be decrypted",
		zap.String("connection_id", conn.ID.String()),
		zap.String("user_id", conn.UserID.String()),
		zap.String("provider", string(conn.Provider)),
		zap.Error(cause),
	)

	out := conn.Clone()
	out.AccessToken = ""
	out.RefreshToken = ""
	if !conn.Connected {
		return out
	}

	now := s.clock.Now()
	if err := s.inner.Disconnect(ctx, conn.ID, DisconnectProviderError, now); err != nil {
		s.logger.Error("failed to disconnect unreadable connection",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
		return out
	}
	out.Connected = false
	out.DisconnectReason = DisconnectProviderError
	out.UpdatedAt = now
	return out
}

func (s *SealedStore) ListConnectedUsers(ctx context.Context) ([]uuid.UUID, error) {
	return s.inner.ListConnectedUsers(ctx)
}

func (s *SealedStore) Disconnect(ctx context.Context, id uuid.UUID, reason DisconnectReason, at time.Time) error {
	return s.inner.Disconnect(ctx, id, reason, at)
}

func (s *SealedStore) UpdateProfile(ctx context.Context, id uuid.UUID, profile *Profile, at time.Time) error {
	return s.inner.UpdateProfile(ctx, id, profile, at)
}

func (s *SealedStore) open(conn *Connection) (*Connection, error) {
	out := conn.Clone()

	var err error
	if out.AccessToken, err = s.crypto.DecryptToken(conn.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for %s: %w", conn.ID, err)
	}
	if out.RefreshToken, err = s.crypto.DecryptToken(conn.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token for %s: %w", conn.ID, err)
	}
	return out, nil
}
