package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("provider not connected")

const fallbackTokenLifetime = 3600 // seconds, used when a provider omits expires_in

// Deps are the collaborators shared by the connector and the sync orchestrator.
type Deps struct {
	Store     ConnectionStore
	Sessions  SessionStore
	Providers map[Provider]ConnectionProvider
	Notifier  Notifier
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = NewNotificationFeed(0)
	}
	if d.Providers == nil {
		d.Providers = map[Provider]ConnectionProvider{}
	}
	return d
}

// CallbackState is one step of the callback state machine.
type CallbackState string

const (
	StateIdle            CallbackState = "idle"
	StateValidating      CallbackState = "validating"
	StateExchanging      CallbackState = "exchanging"
	StateFetchingProfile CallbackState = "fetching_profile"
	StateCommitted       CallbackState = "committed"
	StateFailed          CallbackState = "failed"
)

// CallbackResult records the states a callback went through and how it ended.
type CallbackResult struct {
	Provider   Provider
	States     []CallbackState
	Connection *Connection
	Failure    *FlowError
}

func (r *CallbackResult) enter(s CallbackState) {
	r.States = append(r.States, s)
}

func (r *CallbackResult) Final() CallbackState {
	return r.States[len(r.States)-1]
}

// Connector drives authorization initiation and callback processing.
type Connector struct {
	store      ConnectionStore
	sessions   SessionStore
	providers  map[Provider]ConnectionProvider
	notifier   Notifier
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *Metrics
	sessionTTL time.Duration
	latch      *callbackLatch
}

func NewConnector(deps Deps, sessionTTL time.Duration) *Connector {
	deps = deps.withDefaults()
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Connector{
		store:      deps.Store,
		sessions:   deps.Sessions,
		providers:  deps.Providers,
		notifier:   deps.Notifier,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("connector"),
		metrics:    deps.Metrics,
		sessionTTL: sessionTTL,
		latch:      newCallbackLatch(),
	}
}

// Providers lists the configured providers.
func (c *Connector) Providers() []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range allProviders {
		if _, ok := c.providers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Authorize prepares a new attempt for provider and returns the URL the
// browser must be sent to. Any pending attempt for the same provider is replaced.
func (c *Connector) Authorize(ctx context.Context, userID uuid.UUID, provider Provider) (string, error) {
	p, ok := c.providers[provider]
	if !ok {
		return "", newFlowError(FailureUnsupportedProvider, provider, "", ErrUnsupportedProvider)
	}

	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	req := AuthRequest{State: state}
	var verifier string
	if p.RequiresPKCE() {
		verifier, err = GenerateCodeVerifier()
		if err != nil {
			return "", err
		}
		req.CodeChallenge = GenerateCodeChallenge(verifier)
	}

	redirectURL, err := p.AuthCodeURL(req)
	if err != nil {
		c.metrics.authorization(provider, string(FailureConfiguration))
		c.logger.Error("provider misconfigured",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		return "", newFlowError(FailureConfiguration, provider, err.Error(), err)
	}

	key := SessionKey{UserID: userID, Provider: provider}
	session := &AuthSession{
		Provider:     provider,
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    c.clock.Now(),
	}
	if err := c.sessions.Set(ctx, key, session, c.sessionTTL); err != nil {
		c.metrics.authorization(provider, string(FailureStore))
		return "", newFlowError(FailureStore, provider, "failed to save auth session", err)
	}
	c.latch.reset(key)

	c.metrics.authorization(provider, "redirect")
	c.logger.Debug("authorization started",
		zap.String("user_id", userID.String()),
		zap.String("provider", string(provider)),
		zap.Bool("pkce", verifier != ""),
	)
	return redirectURL, nil
}

// HandleCallback runs the callback state machine for the query string the
// provider redirected back with. The returned error, when non-nil, is the
// *FlowError also stored in the result.
func (c *Connector) HandleCallback(ctx context.Context, userID uuid.UUID, provider Provider, query url.Values) (*CallbackResult, error) {
	res := &CallbackResult{Provider: provider, States: []CallbackState{StateIdle}}

	p, ok := c.providers[provider]
	if !ok {
		return c.fail(ctx, userID, res, newFlowError(FailureUnsupportedProvider, provider, "", ErrUnsupportedProvider))
	}

	key := SessionKey{UserID: userID, Provider: provider}
	if found, ok := c.latch.acquire(key); !ok {
		return c.fail(ctx, userID, res, newFlowError(FailureAlreadyProcessed, provider,
			"callback "+found.String(), ErrAlreadyProcessed))
	}

	res.enter(StateValidating)
	session, code, fe := c.validate(ctx, key, query)
	if fe != nil {
		if fe.Kind == FailureMissingParameters {
			c.latch.reset(key)
		} else {
			c.latch.finish(key)
		}
		return c.fail(ctx, userID, res, fe)
	}
	defer c.latch.finish(key)

	res.enter(StateExchanging)
	tokens, err := p.ExchangeCode(ctx, code, session.CodeVerifier)
	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = fmt.Errorf("%w: empty access token", ErrProviderTokenExchange)
	}
	if err != nil {
		return c.fail(ctx, userID, res, newFlowError(FailureTokenExchange, provider, err.Error(), err))
	}

	issued := *tokens
	if issued.ExpiresIn <= 0 {
		issued.ExpiresIn = fallbackTokenLifetime
	}

	res.enter(StateFetchingProfile)
	profile, err := p.FetchProfile(ctx, issued.AccessToken)
	if err != nil {
		if errors.Is(err, ErrMissingSubresource) {
			return c.fail(ctx, userID, res, newFlowError(FailureMissingSubresource, provider, err.Error(), err))
		}
		return c.fail(ctx, userID, res, newFlowError(FailureProfileFetch, provider, err.Error(), err))
	}

	now := c.clock.Now()
	conn := &Connection{
		ID:        uuid.New(),
		UserID:    userID,
		Provider:  provider,
		Connected: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	conn.ApplyTokens(&issued, now)
	conn.ApplyProfile(profile)

	stored, err := c.store.Upsert(ctx, conn)
	if err != nil {
		return c.fail(ctx, userID, res, newFlowError(FailureStore, provider, "failed to save connection", err))
	}

	res.enter(StateCommitted)
	res.Connection = stored
	c.metrics.callback(provider, string(StateCommitted))
	c.logger.Info("connection committed",
		zap.String("user_id", userID.String()),
		zap.String("provider", string(provider)),
		zap.String("connection_id", stored.ID.String()),
	)

	name := stored.Username
	if name == "" {
		name = stored.DisplayName
	}
	c.notifier.Notify(ctx, Notification{
		UserID:    userID,
		Provider:  provider,
		Level:     LevelSuccess,
		Message:   fmt.Sprintf("%s account %s connected.", provider.DisplayName(), name),
		CreatedAt: now,
	})

	return res, nil
}

// validate checks the callback parameters against the stored session. The
// session is taken out of the store whether or not the state matches.
func (c *Connector) validate(ctx context.Context, key SessionKey, query url.Values) (*AuthSession, string, *FlowError) {
	provider := key.Provider

	if errCode := query.Get("error"); errCode != "" {
		c.discardSession(ctx, key)
		msg := query.Get("error_description")
		if msg == "" {
			msg = errCode
		}
		return nil, "", newFlowError(FailureProviderError, provider, msg,
			fmt.Errorf("%w: %s", ErrProviderDenied, errCode))
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		return nil, "", newFlowError(FailureMissingParameters, provider, "", ErrMissingParameters)
	}

	session, err := c.sessions.Take(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.discardSession(ctx, key)
		return nil, "", newFlowError(FailureStore, provider, "failed to load auth session", err)
	}

	if session == nil || session.Provider != provider || !statesEqual(session.State, state) {
		c.logger.Warn("oauth state mismatch",
			zap.String("security_event", "csrf_state_mismatch"),
			zap.String("user_id", key.UserID.String()),
			zap.String("provider", string(provider)),
			zap.Bool("session_found", session != nil),
		)
		return nil, "", newFlowError(FailureStateMismatch, provider, "", ErrStateMismatch)
	}

	return session, code, nil
}

func (c *Connector) discardSession(ctx context.Context, key SessionKey) {
	if err := c.sessions.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Error("failed to delete auth session",
			zap.String("provider", string(key.Provider)),
			zap.Error(err),
		)
	}
}

func (c *Connector) fail(ctx context.Context, userID uuid.UUID, res *CallbackResult, fe *FlowError) (*CallbackResult, error) {
	res.enter(StateFailed)
	res.Failure = fe

	c.metrics.callback(fe.Provider, string(fe.Kind))
	if !fe.Security() {
		c.logger.Info("callback failed",
			zap.String("user_id", userID.String()),
			zap.String("provider", string(fe.Provider)),
			zap.String("kind", string(fe.Kind)),
			zap.Error(fe.Err),
		)
	}
	notifyFailure(ctx, c.notifier, userID, fe, c.clock.Now())

	return res, fe
}

// GetConnections returns every record of userID, connected or not.
func (c *Connector) GetConnections(ctx context.Context, userID uuid.UUID) ([]*Connection, error) {
	return c.store.ListByUser(ctx, userID)
}

// Disconnect marks a connection owned by userID as disconnected. The record is kept.
func (c *Connector) Disconnect(ctx context.Context, userID, connectionID uuid.UUID) error {
	conn, err := c.store.FindByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.UserID != userID {
		return ErrNotFound
	}

	if err := c.store.Disconnect(ctx, connectionID, DisconnectUser, c.clock.Now()); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", conn.Provider, err)
	}

	c.logger.Info("connection disconnected by user",
		zap.String("user_id", userID.String()),
		zap.String("provider", string(conn.Provider)),
	)
	return nil
}

// ValidAccessToken returns a usable provider token for in-process
// collaborators. An expired record is disconnected on the spot.
func (c *Connector) ValidAccessToken(ctx context.Context, userID uuid.UUID, provider Provider) (string, error) {
	conn, err := c.store.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}
	if !conn.Usable() {
		return "", ErrNotConnected
	}

	now := c.clock.Now()
	if conn.Expired(now) {
		if err := c.store.Disconnect(ctx, conn.ID, DisconnectExpired, now); err != nil {
			return "", fmt.Errorf("failed to disconnect expired %s: %w", provider, err)
		}
		fe := newFlowError(FailureExpiredToken, provider, "", ErrProviderTokenExpired)
		notifyFailure(ctx, c.notifier, userID, fe, now)
		return "", fe
	}

	return conn.AccessToken, nil
}

// StripCallbackParams removes the OAuth response parameters from u so a
// reload or back navigation cannot replay them.
func StripCallbackParams(u *url.URL) *url.URL {
	out := *u
	q := out.Query()
	for _, k := range []string{"code", "state", "error", "error_description", "error_reason", "error_uri", "scope"} {
		q.Del(k)
	}
	out.RawQuery = q.Encode()
	return &out
}
