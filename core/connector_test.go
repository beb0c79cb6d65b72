package core_test

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"connectd/core"
	"connectd/core/providers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthorize_PKCEProvider(t *testing.T) {
	h := newHarness(t)

	q := h.authorize(core.ProviderTwitter)

	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Len(t, q.Get("state"), 64)

	stored, err := h.sessions.Get(h.ctx, core.SessionKey{UserID: h.userID, Provider: core.ProviderTwitter})
	require.NoError(t, err)
	assert.Equal(t, q.Get("state"), stored.State)
	assert.True(t, core.VerifyCodeChallenge(stored.CodeVerifier, q.Get("code_challenge")))
	assert.Equal(t, testNow, stored.CreatedAt)
}

func TestAuthorize_NonPKCEProvider(t *testing.T) {
	h := newHarness(t)

	q := h.authorize(core.ProviderLinkedIn)
	assert.Empty(t, q.Get("code_challenge"))

	stored, err := h.sessions.Get(h.ctx, core.SessionKey{UserID: h.userID, Provider: core.ProviderLinkedIn})
	require.NoError(t, err)
	assert.Empty(t, stored.CodeVerifier)
}

func TestAuthorize_ReplacesPendingSession(t *testing.T) {
	h := newHarness(t)

	first := h.authorize(core.ProviderTikTok)
	second := h.authorize(core.ProviderTikTok)
	require.NotEqual(t, first.Get("state"), second.Get("state"))

	res, err := h.callback(core.ProviderTikTok, callbackQuery(providers.ValidCode1, first.Get("state")))
	require.Error(t, err)
	assert.Equal(t, core.FailureStateMismatch, res.Failure.Kind)
}

func TestAuthorize_MissingConfiguration(t *testing.T) {
	h := newHarness(t)
	h.deps.Providers[core.ProviderMicrosoft] = providers.NewMicrosoftProvider(&providers.Config{ClientID: "id"})
	connector := core.NewConnector(h.deps, 0)

	redirect, err := connector.Authorize(h.ctx, h.userID, core.ProviderMicrosoft)

	assert.Empty(t, redirect)
	assert.Equal(t, core.FailureConfiguration, core.KindOf(err))
	assert.ErrorIs(t, err, core.ErrProviderConfig)

	_, err = h.sessions.Get(h.ctx, core.SessionKey{UserID: h.userID, Provider: core.ProviderMicrosoft})
	assert.ErrorIs(t, err, core.ErrNotFound, "no session for a flow that never redirected")
}

func TestAuthorize_UnsupportedProvider(t *testing.T) {
	h := newHarness(t)

	_, err := h.connector.Authorize(h.ctx, h.userID, core.Provider("myspace"))
	assert.Equal(t, core.FailureUnsupportedProvider, core.KindOf(err))
}

func TestHandleCallback_Success(t *testing.T) {
	h := newHarness(t)
	mock := h.mocks[core.ProviderTwitter]

	q := h.authorize(core.ProviderTwitter)
	stored, err := h.sessions.Get(h.ctx, core.SessionKey{UserID: h.userID, Provider: core.ProviderTwitter})
	require.NoError(t, err)

	res, err := h.callback(core.ProviderTwitter, callbackQuery(providers.ValidCode1, q.Get("state")))
	require.NoError(t, err)

	assert.Equal(t, []core.CallbackState{
		core.StateIdle,
		core.StateValidating,
		core.StateExchanging,
		core.StateFetchingProfile,
		core.StateCommitted,
	}, res.States)
	assert.Nil(t, res.Failure)

	conn := res.Connection
	require.NotNil(t, conn)
	assert.True(t, conn.Connected)
	assert.Equal(t, h.userID, conn.UserID)
	assert.Equal(t, "mock_user_1", conn.ProviderUserID)
	assert.Equal(t, "mockone", conn.Username)
	assert.Equal(t, int64(120), *conn.Followers)
	assert.Equal(t, providers.Tokens1.AccessToken, conn.AccessToken)
	assert.Equal(t, providers.Tokens1.RefreshToken, conn.RefreshToken)
	assert.Equal(t, testNow.Add(time.Hour), conn.ExpiresAt)

	assert.Equal(t, stored.CodeVerifier, mock.LastCodeVerifier)

	_, err = h.sessions.Get(h.ctx, core.SessionKey{UserID: h.userID, Provider: core.ProviderTwitter})
	assert.ErrorIs(t, err, core.ErrNotFound, "session is single-use")

	notes := h.feed.Drain(h.userID)
	require.Len(t, notes, 1)
	assert.Equal(t, core.LevelSuccess, notes[0].Level)
	assert.Contains(t, notes[0].Message, "Twitter")
}

func TestHandleCallback_MissingExpiresInFallsBack(t *testing.T) {
	h := newHarness(t)

	conn := h.connect(core.ProviderMicrosoft, providers.ValidCode3)
	assert.Equal(t, testNow.Add(3600*time.Second), conn.ExpiresAt)
}

func TestHandleCallback_StateMismatchNeverExchanges(t *testing.T) {
	for _, id := range core.AllProviders() {
		t.Run(string(id), func(t *testing.T) {
			h := newHarness(t)
			mock := h.mocks[id]

			h.authorize(id)
			res, err := h.callback(id, callbackQuery(providers.ValidCode1, "forged-state"))

			require.Error(t, err)
			assert.Equal(t, core.StateFailed, res.Final())
			assert.Equal(t, core.FailureStateMismatch, res.Failure.Kind)
			assert.ErrorIs(t, err, core.ErrStateMismatch)

			exchanges, profiles := mock.Calls()
			assert.Zero(t, exchanges)
			assert.Zero(t, profiles)

			conns, err := h.store.ListByUser(h.ctx, h.userID)
			require.NoError(t, err)
			assert.Empty(t, conns)

			security := h.logs.FilterField(zap.String("security_event", "csrf_state_mismatch"))
			assert.Equal(t, 1, security.Len())
		})
	}
}

func TestHandleCallback_NoSession(t *testing.T) {
	h := newHarness(t)

	res, err := h.callback(core.ProviderYouTube, callbackQuery(providers.ValidCode1, "some-state"))

	require.Error(t, err)
	assert.Equal(t, core.FailureStateMismatch, res.Failure.Kind)
	exchanges, _ := h.mocks[core.ProviderYouTube].Calls()
	assert.Zero(t, exchanges)
}

func TestHandleCallback_ReplayExchangesOnce(t *testing.T) {
	for _, id := range core.AllProviders() {
		t.Run(string(id), func(t *testing.T) {
			h := newHarness(t)

			q := h.authorize(id)
			query := callbackQuery(providers.ValidCode1, q.Get("state"))

			_, err := h.callback(id, query)
			require.NoError(t, err)

			res, err := h.callback(id, query)
			require.Error(t, err)
			assert.Equal(t, core.StateFailed, res.Final())
			assert.Equal(t, core.FailureAlreadyProcessed, res.Failure.Kind)

			exchanges, _ := h.mocks[id].Calls()
			assert.Equal(t, 1, exchanges)
		})
	}
}

func TestHandleCallback_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t)

	q := h.authorize(core.ProviderFacebook)
	query := callbackQuery(providers.ValidCode2, q.Get("state"))

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.callback(core.ProviderFacebook, query)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, core.FailureAlreadyProcessed, core.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	exchanges, _ := h.mocks[core.ProviderFacebook].Calls()
	assert.Equal(t, 1, exchanges)
}

func TestHandleCallback_ProviderError(t *testing.T) {
	h := newHarness(t)

	h.authorize(core.ProviderLinkedIn)
	query := url.Values{}
	query.Set("error", "access_denied")
	query.Set("error_description", "The user cancelled the login")

	res, err := h.callback(core.ProviderLinkedIn, query)

	require.Error(t, err)
	assert.Equal(t, core.StateFailed, res.Final())
	assert.Equal(t, core.FailureProviderError, res.Failure.Kind)
	assert.ErrorIs(t, err, core.ErrProviderDenied)
	assert.Contains(t, res.Failure.UserMessage(), "The user cancelled the login")

	_, err = h.sessions.Get(h.ctx, core.SessionKey{UserID: h.userID, Provider: core.ProviderLinkedIn})
	assert.ErrorIs(t, err, core.ErrNotFound, "session cleared")

	conns, err := h.store.ListByUser(h.ctx, h.userID)
	require.NoError(t, err)
	assert.Empty(t, conns, "no record created")

	exchanges, _ := h.mocks[core.ProviderLinkedIn].Calls()
	assert.Zero(t, exchanges)

	notes := h.feed.Drain(h.userID)
	require.Len(t, notes, 1)
	assert.Equal(t, core.LevelError, notes[0].Level)
	assert.Equal(t, core.FailureProviderError, notes[0].Kind)
}

func TestHandleCallback_MissingParametersKeepsAttemptOpen(t *testing.T) {
	h := newHarness(t)

	q := h.authorize(core.ProviderTwitter)

	query := url.Values{}
	query.Set("state", q.Get("state"))
	res, err := h.callback(core.ProviderTwitter, query)
	require.Error(t, err)
	assert.Equal(t, core.FailureMissingParameters, res.Failure.Kind)

	res, err = h.callback(core.ProviderTwitter, callbackQuery(providers.ValidCode1, q.Get("state")))
	require.NoError(t, err)
	assert.Equal(t, core.StateCommitted, res.Final())
}

func TestHandleCallback_TokenExchangeFailure(t *testing.T) {
	h := newHarness(t)
	h.mocks[core.ProviderTikTok].FailExchange(fmt.Errorf("%w: status 400: invalid_grant", core.ErrProviderTokenExchange))

	q := h.authorize(core.ProviderTikTok)
	res, err := h.callback(core.ProviderTikTok, callbackQuery(providers.ValidCode1, q.Get("state")))

	require.Error(t, err)
	assert.Equal(t, []core.CallbackState{
		core.StateIdle, core.StateValidating, core.StateExchanging, core.StateFailed,
	}, res.States)
	assert.Equal(t, core.FailureTokenExchange, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "invalid_grant")

	_, profiles := h.mocks[core.ProviderTikTok].Calls()
	assert.Zero(t, profiles)

	conns, err := h.store.ListByUser(h.ctx, h.userID)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestHandleCallback_UnknownCode(t *testing.T) {
	h := newHarness(t)

	q := h.authorize(core.ProviderTikTok)
	res, err := h.callback(core.ProviderTikTok, callbackQuery("expired-code", q.Get("state")))

	require.Error(t, err)
	assert.Equal(t, core.FailureTokenExchange, res.Failure.Kind)
}

func TestHandleCallback_ProfileFailure(t *testing.T) {
	h := newHarness(t)
	h.mocks[core.ProviderMicrosoft].FailProfile(fmt.Errorf("%w: status 500", core.ErrProviderProfile))

	q := h.authorize(core.ProviderMicrosoft)
	res, err := h.callback(core.ProviderMicrosoft, callbackQuery(providers.ValidCode1, q.Get("state")))

	require.Error(t, err)
	assert.Equal(t, core.StateFetchingProfile, res.States[len(res.States)-2])
	assert.Equal(t, core.FailureProfileFetch, res.Failure.Kind)

	conns, err := h.store.ListByUser(h.ctx, h.userID)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestHandleCallback_MissingSubresource(t *testing.T) {
	h := newHarness(t)
	h.mocks[core.ProviderFacebook].FailProfile(core.NewSubresourceError(core.ProviderFacebook, "page",
		"Create a Facebook Page or get admin access to one, then connect again."))

	q := h.authorize(core.ProviderFacebook)
	res, err := h.callback(core.ProviderFacebook, callbackQuery(providers.ValidCode1, q.Get("state")))

	require.Error(t, err)
	assert.Equal(t, core.FailureMissingSubresource, res.Failure.Kind)
	assert.Contains(t, res.Failure.UserMessage(), "Create a Facebook Page")

	conns, err := h.store.ListByUser(h.ctx, h.userID)
	require.NoError(t, err)
	assert.Empty(t, conns, "personal-only identities must not be connected")

	notes := h.feed.Drain(h.userID)
	require.Len(t, notes, 1)
	assert.Equal(t, core.LevelWarning, notes[0].Level)
}

func TestHandleCallback_UnsupportedProvider(t *testing.T) {
	h := newHarness(t)

	res, err := h.callback(core.Provider("myspace"), callbackQuery("c", "s"))
	require.Error(t, err)
	assert.Equal(t, core.FailureUnsupportedProvider, res.Failure.Kind)
}

func TestReauthorizeUpsertsSingleRecord(t *testing.T) {
	h := newHarness(t)

	first := h.connect(core.ProviderYouTube, providers.ValidCode1)
	h.clock.Advance(time.Minute)
	second := h.connect(core.ProviderYouTube, providers.ValidCode2)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "mocktwo", second.Username)
	assert.Equal(t, providers.Tokens2.AccessToken, second.AccessToken)

	conns, err := h.store.ListByUser(h.ctx, h.userID)
	require.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t)

	conn := h.connect(core.ProviderInstagram, providers.ValidCode1)
	require.NoError(t, h.connector.Disconnect(h.ctx, h.userID, conn.ID))

	again := h.connect(core.ProviderInstagram, providers.ValidCode1)
	assert.Equal(t, conn.ID, again.ID)
	assert.True(t, again.Connected)
	assert.Equal(t, core.DisconnectNone, again.DisconnectReason)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(core.ProviderTwitter, providers.ValidCode1)

	err := h.connector.Disconnect(h.ctx, uuid.New(), conn.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "other users cannot disconnect")

	require.NoError(t, h.connector.Disconnect(h.ctx, h.userID, conn.ID))

	conns, err := h.connector.GetConnections(h.ctx, h.userID)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.False(t, conns[0].Connected)
	assert.Equal(t, core.DisconnectUser, conns[0].DisconnectReason)

	assert.ErrorIs(t, h.connector.Disconnect(h.ctx, h.userID, uuid.New()), core.ErrNotFound)
}

func TestValidAccessToken(t *testing.T) {
	h := newHarness(t)
	h.connect(core.ProviderLinkedIn, providers.ValidCode1)

	token, err := h.connector.ValidAccessToken(h.ctx, h.userID, core.ProviderLinkedIn)
	require.NoError(t, err)
	assert.Equal(t, providers.Tokens1.AccessToken, token)

	_, err = h.connector.ValidAccessToken(h.ctx, h.userID, core.ProviderTikTok)
	assert.ErrorIs(t, err, core.ErrNotConnected)

	h.feed.Drain(h.userID)
	h.clock.Advance(2 * time.Hour)

	_, err = h.connector.ValidAccessToken(h.ctx, h.userID, core.ProviderLinkedIn)
	assert.ErrorIs(t, err, core.ErrProviderTokenExpired)
	assert.NotErrorIs(t, err, core.ErrExpiredToken, "host session expiry is a different condition")
	assert.Equal(t, core.FailureExpiredToken, core.KindOf(err))

	conn, err := h.store.FindByUserAndProvider(h.ctx, h.userID, core.ProviderLinkedIn)
	require.NoError(t, err)
	assert.False(t, conn.Connected)
	assert.Equal(t, core.DisconnectExpired, conn.DisconnectReason)
	assert.Len(t, h.feed.Drain(h.userID), 1)

	_, err = h.connector.ValidAccessToken(h.ctx, h.userID, core.ProviderLinkedIn)
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestSealedStore_EncryptsTokensAtRest(t *testing.T) {
	h := newHarness(t)
	crypto, err := core.NewCryptoServiceFromSecret("a-long-enough-passphrase")
	require.NoError(t, err)

	h.deps.Store = core.NewSealedStore(h.store, crypto, h.clock, nil)
	connector := core.NewConnector(h.deps, 0)

	raw, err := connector.Authorize(h.ctx, h.userID, core.ProviderTwitter)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	res, err := connector.HandleCallback(h.ctx, h.userID, core.ProviderTwitter,
		callbackQuery(providers.ValidCode1, u.Query().Get("state")))
	require.NoError(t, err)
	assert.Equal(t, providers.Tokens1.AccessToken, res.Connection.AccessToken)

	atRest, err := h.store.FindByID(h.ctx, res.Connection.ID)
	require.NoError(t, err)
	assert.NotEqual(t, providers.Tokens1.AccessToken, atRest.AccessToken)
	assert.NotEqual(t, providers.Tokens1.RefreshToken, atRest.RefreshToken)

	token, err := connector.ValidAccessToken(h.ctx, h.userID, core.ProviderTwitter)
	require.NoError(t, err)
	assert.Equal(t, providers.Tokens1.AccessToken, token)
}

func TestStripCallbackParams(t *testing.T) {
	u, err := url.Parse("https://app.test/callback/twitter?code=abc&state=xyz&tab=social&error=x&error_description=y")
	require.NoError(t, err)

	stripped := core.StripCallbackParams(u)
	assert.Equal(t, "tab=social", stripped.RawQuery)
	assert.Equal(t, "/callback/twitter", stripped.Path)
	assert.Contains(t, u.RawQuery, "code=abc", "input is not modified")
}

func TestFlowErrorIsNeverPanic(t *testing.T) {
	h := newHarness(t)

	_, err := h.callback(core.ProviderTwitter, url.Values{})
	var fe *core.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, core.FailureMissingParameters, fe.Kind)
}
