package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"connectd/core"
	"connectd/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type closer interface {
	core.ConnectionStore
	Close() error
}

type StoreSuite struct {
	suite.Suite
	newStore func() (closer, error)
	store    closer
	ctx      context.Context
	now      time.Time
}

func (s *StoreSuite) SetupTest() {
	store, err := s.newStore()
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) TearDownTest() {
	s.store.Close()
}

func (s *StoreSuite) newConnection(userID uuid.UUID, provider core.Provider) *core.Connection {
	created := time.Date(2014, 5, 6, 0, 0, 0, 0, time.UTC)
	return &core.Connection{
		ID:               uuid.New(),
		UserID:           userID,
		Provider:         provider,
		ProviderUserID:   "pid-" + string(provider),
		Username:         "jane",
		DisplayName:      "Jane Doe",
		AccessToken:      "access",
		RefreshToken:     "refresh",
		ExpiresAt:        s.now.Add(time.Hour),
		Connected:        true,
		Followers:        core.Int64(10),
		Views:            core.Int64(0),
		Verified:         core.Bool(false),
		AccountCreatedAt: &created,
		CreatedAt:        s.now,
		UpdatedAt:        s.now,
	}
}

func (s *StoreSuite) TestUpsertInsertsAndReads() {
	userID := uuid.New()
	conn := s.newConnection(userID, core.ProviderTwitter)

	stored, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)
	s.Equal(conn.ID, stored.ID)

	found, err := s.store.FindByID(s.ctx, conn.ID)
	s.Require().NoError(err)
	s.Equal(userID, found.UserID)
	s.Equal(core.ProviderTwitter, found.Provider)
	s.Equal("access", found.AccessToken)
	s.Equal("refresh", found.RefreshToken)
	s.True(found.ExpiresAt.Equal(conn.ExpiresAt))
	s.True(found.Connected)
	s.Require().NotNil(found.Followers)
	s.Equal(int64(10), *found.Followers)
	s.Require().NotNil(found.Views)
	s.Equal(int64(0), *found.Views)
	s.Nil(found.Following)
	s.Require().NotNil(found.Verified)
	s.False(*found.Verified)
	s.Require().NotNil(found.AccountCreatedAt)
	s.True(found.AccountCreatedAt.Equal(*conn.AccountCreatedAt))
}

func (s *StoreSuite) TestUpsertIsIdempotentPerUserAndProvider() {
	userID := uuid.New()
	first := s.newConnection(userID, core.ProviderYouTube)
	_, err := s.store.Upsert(s.ctx, first)
	s.Require().NoError(err)

	second := s.newConnection(userID, core.ProviderYouTube)
	second.AccessToken = "newer"
	second.Followers = core.Int64(99)
	second.CreatedAt = s.now.Add(time.Hour)
	second.UpdatedAt = s.now.Add(time.Hour)

	stored, err := s.store.Upsert(s.ctx, second)
	s.Require().NoError(err)

	s.Equal(first.ID, stored.ID, "existing record keeps its id")
	s.True(stored.CreatedAt.Equal(first.CreatedAt), "existing record keeps created_at")
	s.True(stored.UpdatedAt.Equal(second.UpdatedAt))
	s.Equal("newer", stored.AccessToken)
	s.Equal(int64(99), *stored.Followers)

	all, err := s.store.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *StoreSuite) TestUpsertSameRecordTwice() {
	conn := s.newConnection(uuid.New(), core.ProviderLinkedIn)
	_, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)

	conn.Username = "renamed"
	stored, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)
	s.Equal(conn.ID, stored.ID)
	s.Equal("renamed", stored.Username)
}

func (s *StoreSuite) TestFindMissing() {
	_, err := s.store.FindByID(s.ctx, uuid.New())
	s.ErrorIs(err, core.ErrNotFound)

	_, err = s.store.FindByUserAndProvider(s.ctx, uuid.New(), core.ProviderTikTok)
	s.ErrorIs(err, core.ErrNotFound)
}

func (s *StoreSuite) TestListByUserIsScoped() {
	alice, bob := uuid.New(), uuid.New()
	for _, p := range []core.Provider{core.ProviderTwitter, core.ProviderFacebook} {
		_, err := s.store.Upsert(s.ctx, s.newConnection(alice, p))
		s.Require().NoError(err)
	}
	_, err := s.store.Upsert(s.ctx, s.newConnection(bob, core.ProviderTwitter))
	s.Require().NoError(err)

	conns, err := s.store.ListByUser(s.ctx, alice)
	s.Require().NoError(err)
	s.Len(conns, 2)
	for _, c := range conns {
		s.Equal(alice, c.UserID)
	}

	empty, err := s.store.ListByUser(s.ctx, uuid.New())
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)
}

func (s *StoreSuite) TestDisconnectKeepsRecord() {
	conn := s.newConnection(uuid.New(), core.ProviderInstagram)
	_, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)

	at := s.now.Add(2 * time.Hour)
	s.Require().NoError(s.store.Disconnect(s.ctx, conn.ID, core.DisconnectExpired, at))

	found, err := s.store.FindByID(s.ctx, conn.ID)
	s.Require().NoError(err)
	s.False(found.Connected)
	s.Equal(core.DisconnectExpired, found.DisconnectReason)
	s.True(found.UpdatedAt.Equal(at))
	s.Equal("access", found.AccessToken)

	s.ErrorIs(s.store.Disconnect(s.ctx, uuid.New(), core.DisconnectUser, at), core.ErrNotFound)
}

func (s *StoreSuite) TestReconnectClearsDisconnectReason() {
	userID := uuid.New()
	conn := s.newConnection(userID, core.ProviderMicrosoft)
	_, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Disconnect(s.ctx, conn.ID, core.DisconnectProviderError, s.now))

	fresh := s.newConnection(userID, core.ProviderMicrosoft)
	stored, err := s.store.Upsert(s.ctx, fresh)
	s.Require().NoError(err)

	s.Equal(conn.ID, stored.ID)
	s.True(stored.Connected)
	s.Equal(core.DisconnectNone, stored.DisconnectReason)
}

func (s *StoreSuite) TestUpdateProfileLeavesTokensAndStatus() {
	conn := s.newConnection(uuid.New(), core.ProviderTikTok)
	_, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)

	at := s.now.Add(time.Hour)
	err = s.store.UpdateProfile(s.ctx, conn.ID, &core.Profile{
		Username:      "jane_tt",
		DisplayName:   "Jane on TikTok",
		Followers:     core.Int64(4200),
		PostsOrVideos: core.Int64(31),
	}, at)
	s.Require().NoError(err)

	found, err := s.store.FindByID(s.ctx, conn.ID)
	s.Require().NoError(err)
	s.Equal("jane_tt", found.Username)
	s.Equal("Jane on TikTok", found.DisplayName)
	s.Equal(int64(4200), *found.Followers)
	s.Equal(int64(31), *found.PostsOrVideos)
	s.Nil(found.Views)
	s.Equal("pid-tiktok", found.ProviderUserID, "an empty provider user id keeps the stored one")
	s.True(found.UpdatedAt.Equal(at))

	s.Equal("access", found.AccessToken)
	s.Equal("refresh", found.RefreshToken)
	s.True(found.ExpiresAt.Equal(conn.ExpiresAt))
	s.True(found.Connected)
	s.True(found.CreatedAt.Equal(conn.CreatedAt))
}

func (s *StoreSuite) TestUpdateProfileSkipsDisconnected() {
	conn := s.newConnection(uuid.New(), core.ProviderFacebook)
	_, err := s.store.Upsert(s.ctx, conn)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Disconnect(s.ctx, conn.ID, core.DisconnectUser, s.now))

	err = s.store.UpdateProfile(s.ctx, conn.ID, &core.Profile{Username: "late"}, s.now.Add(time.Minute))
	s.ErrorIs(err, core.ErrNotFound)

	found, err := s.store.FindByID(s.ctx, conn.ID)
	s.Require().NoError(err)
	s.False(found.Connected)
	s.Equal("jane", found.Username)

	s.ErrorIs(s.store.UpdateProfile(s.ctx, uuid.New(), &core.Profile{}, s.now), core.ErrNotFound)
}

func (s *StoreSuite) TestListConnectedUsers() {
	active, lapsed := uuid.New(), uuid.New()
	_, err := s.store.Upsert(s.ctx, s.newConnection(active, core.ProviderTwitter))
	s.Require().NoError(err)
	_, err = s.store.Upsert(s.ctx, s.newConnection(active, core.ProviderTikTok))
	s.Require().NoError(err)

	gone := s.newConnection(lapsed, core.ProviderTwitter)
	_, err = s.store.Upsert(s.ctx, gone)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Disconnect(s.ctx, gone.ID, core.DisconnectUser, s.now))

	users, err := s.store.ListConnectedUsers(s.ctx)
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{active}, users)
}

func TestMemoryRepository(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() (closer, error) {
		return storage.NewMemoryRepository(), nil
	}})
}

func TestSQLiteRepository(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() (closer, error) {
		return storage.NewSQLiteRepository(":memory:")
	}})
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("CONNECTD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONNECTD_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, &StoreSuite{newStore: func() (closer, error) {
		repo, err := storage.NewPostgresRepository(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
		return repo, repo.Truncate(context.Background())
	}})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := storage.NewMemoryRepository()
	ctx := context.Background()

	conn := &core.Connection{
		UserID:    uuid.New(),
		Provider:  core.ProviderTwitter,
		Connected: true,
		Followers: core.Int64(1),
	}
	stored, err := repo.Upsert(ctx, conn)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, stored.ID)

	*stored.Followers = 500
	again, err := repo.FindByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *again.Followers)
}
