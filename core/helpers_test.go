package core_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"connectd/core"
	"connectd/core/providers"
	"connectd/session"
	"connectd/storage"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

var testNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t            *testing.T
	ctx          context.Context
	clock        *clockwork.FakeClock
	store        *storage.MemoryRepository
	sessions     *session.MemoryStore
	feed         *core.NotificationFeed
	logs         *observer.ObservedLogs
	mocks        map[core.Provider]*providers.MockProvider
	deps         core.Deps
	connector    *core.Connector
	orchestrator *core.SyncOrchestrator
	userID       uuid.UUID
}

func newHarness(t *testing.T) *harness {
	obsCore, logs := observer.New(zapcore.DebugLevel)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    clockwork.NewFakeClockAt(testNow),
		store:    storage.NewMemoryRepository(),
		sessions: session.NewMemoryStore(time.Minute),
		feed:     core.NewNotificationFeed(0),
		logs:     logs,
		mocks:    make(map[core.Provider]*providers.MockProvider),
		userID:   uuid.New(),
	}

	registry := make(map[core.Provider]core.ConnectionProvider)
	for id, d := range providers.Descriptors() {
		m := providers.NewMockProvider(id, d.RequiresPKCE)
		h.mocks[id] = m
		registry[id] = m
	}

	h.deps = core.Deps{
		Store:     h.store,
		Sessions:  h.sessions,
		Providers: registry,
		Notifier:  h.feed,
		Clock:     h.clock,
		Logger:    zap.New(obsCore),
	}
	h.connector = core.NewConnector(h.deps, 0)
	h.orchestrator = core.NewSyncOrchestrator(h.deps, 2)
	return h
}

// authorize starts an attempt and returns the parsed query of the redirect URL.
func (h *harness) authorize(p core.Provider) url.Values {
	h.t.Helper()
	raw, err := h.connector.Authorize(h.ctx, h.userID, p)
	require.NoError(h.t, err)

	u, err := url.Parse(raw)
	require.NoError(h.t, err)
	return u.Query()
}

func (h *harness) callback(p core.Provider, query url.Values) (*core.CallbackResult, error) {
	return h.connector.HandleCallback(h.ctx, h.userID, p, query)
}

func callbackQuery(code, state string) url.Values {
	q := url.Values{}
	q.Set("code", code)
	q.Set("state", state)
	return q
}

// connect runs a full successful flow for p with code.
func (h *harness) connect(p core.Provider, code string) *core.Connection {
	h.t.Helper()
	q := h.authorize(p)
	res, err := h.callback(p, callbackQuery(code, q.Get("state")))
	require.NoError(h.t, err)
	require.Equal(h.t, core.StateCommitted, res.Final())
	return res.Connection
}

// seed writes a record directly into the store.
func (h *harness) seed(p core.Provider, accessToken string, expiresAt time.Time) *core.Connection {
	h.t.Helper()
	conn, err := h.store.Upsert(h.ctx, &core.Connection{
		ID:          uuid.New(),
		UserID:      h.userID,
		Provider:    p,
		Username:    "seeded-" + string(p),
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		Connected:   true,
		CreatedAt:   testNow.Add(-24 * time.Hour),
		UpdatedAt:   testNow.Add(-24 * time.Hour),
	})
	require.NoError(h.t, err)
	return conn
}
