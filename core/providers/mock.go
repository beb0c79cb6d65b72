package providers

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"connectd/core"
)

// Predefined test authorization codes
const (
	ValidCode1 = "mock_auth_code_1"
	ValidCode2 = "mock_auth_code_2"
	ValidCode3 = "mock_auth_code_3"
)

// Predefined test OAuth tokens
var (
	Tokens1 = &core.OAuthTokens{
		AccessToken:  "mock_access_token_1",
		RefreshToken: "mock_refresh_token_1",
		ExpiresIn:    3600,
	}

	Tokens2 = &core.OAuthTokens{
		AccessToken:  "mock_access_token_2",
		RefreshToken: "mock_refresh_token_2",
		ExpiresIn:    3600,
	}

	// Tokens3 carries no lifetime.
	Tokens3 = &core.OAuthTokens{
		AccessToken: "mock_access_token_3",
	}
)

// Predefined test profiles
var (
	Profile1 = &core.Profile{
		ProviderUserID:  "mock_user_1",
		Username:        "mockone",
		DisplayName:     "Mock User One",
		Followers:       core.Int64(120),
		Following:       core.Int64(45),
		PostsOrVideos:   core.Int64(300),
		ProfileImageURL: "https://mock.test/avatar1.jpg",
		Verified:        core.Bool(true),
	}

	Profile2 = &core.Profile{
		ProviderUserID:  "mock_user_2",
		Username:        "mocktwo",
		DisplayName:     "Mock User Two",
		Followers:       core.Int64(7),
		ProfileImageURL: "https://mock.test/avatar2.jpg",
	}

	Profile3 = &core.Profile{
		ProviderUserID: "mock_user_3",
		Username:       "mockthree",
		DisplayName:    "Mock User Three",
	}
)

// MockProvider is a test implementation of core.ConnectionProvider that can
// stand in for any provider id.
type MockProvider struct {
	id   core.Provider
	pkce bool

	mu              sync.Mutex
	codeToTokens    map[string]*core.OAuthTokens
	accessToProfile map[string]*core.Profile
	exchangeErr     error
	profileErr      error
	panicOnProfile  bool
	hold            *profileHold

	// track method calls for verification
	ExchangeCodeCalls int
	FetchProfileCalls int
	LastCodeVerifier  string
}

func NewMockProvider(id core.Provider, requiresPKCE bool) *MockProvider {
	return &MockProvider{
		id:   id,
		pkce: requiresPKCE,

		codeToTokens: map[string]*core.OAuthTokens{
			ValidCode1: Tokens1,
			ValidCode2: Tokens2,
			ValidCode3: Tokens3,
		},

		accessToProfile: map[string]*core.Profile{
			Tokens1.AccessToken: Profile1,
			Tokens2.AccessToken: Profile2,
			Tokens3.AccessToken: Profile3,
		},
	}
}

// SetProfile makes FetchProfile return p for accessToken.
func (m *MockProvider) SetProfile(accessToken string, p *core.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToProfile[accessToken] = p
}

func (m *MockProvider) FailExchange(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeErr = err
}

func (m *MockProvider) FailProfile(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileErr = err
}

func (m *MockProvider) PanicOnProfile() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicOnProfile = true
}

type profileHold struct {
	entered chan struct{}
	release chan struct{}
}

// HoldProfile parks the next FetchProfile call until release is called.
// entered is closed once that call is parked. Later calls are not held.
func (m *MockProvider) HoldProfile() (entered <-chan struct{}, release func()) {
	h := &profileHold{entered: make(chan struct{}), release: make(chan struct{})}

	m.mu.Lock()
	m.hold = h
	m.mu.Unlock()

	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

func (m *MockProvider) Provider() core.Provider {
	return m.id
}

func (m *MockProvider) RequiresPKCE() bool {
	return m.pkce
}

func (m *MockProvider) AuthCodeURL(req core.AuthRequest) (string, error) {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("state", req.State)
	if req.CodeChallenge != "" {
		q.Set("code_challenge", req.CodeChallenge)
		q.Set("code_challenge_method", core.CodeChallengeMethod)
	}
	return fmt.Sprintf("https://mock.test/%s/authorize?%s", m.id, q.Encode()), nil
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExchangeCodeCalls++
	m.LastCodeVerifier = codeVerifier

	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}

	tokens, ok := m.codeToTokens[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown code", core.ErrProviderTokenExchange)
	}

	out := *tokens
	return &out, nil
}

func (m *MockProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	m.mu.Lock()
	m.FetchProfileCalls++
	profileErr, panicking := m.profileErr, m.panicOnProfile
	profile, ok := m.accessToProfile[accessToken]
	hold := m.hold
	m.hold = nil
	m.mu.Unlock()

	if hold != nil {
		close(hold.entered)
		select {
		case <-hold.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if panicking {
		panic("mock provider profile panic")
	}
	if profileErr != nil {
		return nil, profileErr
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown access token", core.ErrProviderProfile)
	}

	out := *profile
	return &out, nil
}

// Calls returns the exchange and profile call counters.
func (m *MockProvider) Calls() (exchange, profile int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExchangeCodeCalls, m.FetchProfileCalls
}
