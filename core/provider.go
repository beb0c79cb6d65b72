package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrProviderConfig        = errors.New("provider configuration incomplete")
	ErrProviderTokenExchange = errors.New("provider token exchange failed")
	ErrProviderProfile       = errors.New("provider profile request failed")
	ErrMissingSubresource    = errors.New("required provider sub-resource missing")
	ErrProviderTokenExpired  = errors.New("provider access token expired")
)

// OAuthTokens represents the tokens returned by an OAuth provider
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
}

// Profile is the provider-independent shape every profile fetch is normalized into.
type Profile struct {
	ProviderUserID   string
	Username         string
	DisplayName      string
	Followers        *int64
	Following        *int64
	PostsOrVideos    *int64
	Views            *int64
	ProfileImageURL  string
	Verified         *bool
	AccountCreatedAt *time.Time
}

// AuthRequest carries the per-attempt values placed on the authorization URL.
type AuthRequest struct {
	State         string
	CodeChallenge string // empty unless the provider requires PKCE
}

type ConnectionProvider interface {
	Provider() Provider

	RequiresPKCE() bool

	// AuthCodeURL fails with ErrProviderConfig when client id or redirect URI are unset.
	AuthCodeURL(req AuthRequest) (string, error)

	ExchangeCode(ctx context.Context, code, codeVerifier string) (*OAuthTokens, error)

	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// SubresourceError reports that the authenticated identity lacks the business
// entity (page, channel, professional account) the connection is about.
type SubresourceError struct {
	Provider Provider
	Resource string
	Hint     string
}

func NewSubresourceError(provider Provider, resource, hint string) *SubresourceError {
	return &SubresourceError{Provider: provider, Resource: resource, Hint: hint}
}

func (e *SubresourceError) Error() string {
	return fmt.Sprintf("%s account has no %s", e.Provider, e.Resource)
}

func (e *SubresourceError) Is(target error) bool {
	return target == ErrMissingSubresource
}

// Int64 and Bool build the optional metric fields of a Profile.
func Int64(v int64) *int64 { return &v }

func Bool(v bool) *bool { return &v }
