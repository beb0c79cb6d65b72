package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external identity/social provider
type Provider string

const (
	ProviderTwitter   Provider = "twitter"
	ProviderTikTok    Provider = "tiktok"
	ProviderLinkedIn  Provider = "linkedin"
	ProviderYouTube   Provider = "youtube"
	ProviderFacebook  Provider = "facebook"
	ProviderInstagram Provider = "instagram"
	ProviderMicrosoft Provider = "microsoft"
)

var allProviders = []Provider{
	ProviderTwitter,
	ProviderTikTok,
	ProviderLinkedIn,
	ProviderYouTube,
	ProviderFacebook,
	ProviderInstagram,
	ProviderMicrosoft,
}

// AllProviders returns the supported providers in display order.
func AllProviders() []Provider {
	out := make([]Provider, len(allProviders))
	copy(out, allProviders)
	return out
}

// ParseProvider maps an identifier coming from a URL or config key to a Provider.
func ParseProvider(id string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(id)))
	for _, known := range allProviders {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, id)
}

// DisplayName is used in user-facing notifications.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderTwitter:
		return "Twitter"
	case ProviderTikTok:
		return "TikTok"
	case ProviderLinkedIn:
		return "LinkedIn"
	case ProviderYouTube:
		return "YouTube"
	case ProviderFacebook:
		return "Facebook"
	case ProviderInstagram:
		return "Instagram"
	case ProviderMicrosoft:
		return "Microsoft"
	}
	return string(p)
}

// DisconnectReason records why a connection stopped being connected
type DisconnectReason string

const (
	DisconnectNone          DisconnectReason = ""
	DisconnectExpired       DisconnectReason = "expired"
	DisconnectProviderError DisconnectReason = "provider_error"
	DisconnectUser          DisconnectReason = "user"
)

// Connection is the durable per-user per-provider credential and metric record.
// Exactly one exists per (UserID, Provider).
type Connection struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	Provider         Provider         `json:"provider"`
	ProviderUserID   string           `json:"provider_user_id,omitempty"`
	Username         string           `json:"username"`
	DisplayName      string           `json:"display_name"`
	AccessToken      string           `json:"-"`
	RefreshToken     string           `json:"-"`
	ExpiresAt        time.Time        `json:"expires_at"`
	Connected        bool             `json:"connected"`
	DisconnectReason DisconnectReason `json:"disconnect_reason,omitempty"`

	Followers        *int64     `json:"followers,omitempty"`
	Following        *int64     `json:"following,omitempty"`
	PostsOrVideos    *int64     `json:"posts_or_videos,omitempty"`
	Views            *int64     `json:"views,omitempty"`
	ProfileImageURL  string     `json:"profile_image_url,omitempty"`
	Verified         *bool      `json:"verified,omitempty"`
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the stored access token is no longer usable at now.
func (c *Connection) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Usable reports whether the record should take part in a sync pass.
func (c *Connection) Usable() bool {
	return c.Connected && c.AccessToken != ""
}

// ApplyProfile copies normalized profile metrics onto the record. Tokens are
// never touched.
func (c *Connection) ApplyProfile(p *Profile) {
	if p.ProviderUserID != "" {
		c.ProviderUserID = p.ProviderUserID
	}
	c.Username = p.Username
	c.DisplayName = p.DisplayName
	c.Followers = p.Followers
	c.Following = p.Following
	c.PostsOrVideos = p.PostsOrVideos
	c.Views = p.Views
	c.ProfileImageURL = p.ProfileImageURL
	c.Verified = p.Verified
	c.AccountCreatedAt = p.AccountCreatedAt
}

// ApplyTokens stores freshly issued tokens. An empty refresh token keeps the previous one.
func (c *Connection) ApplyTokens(t *OAuthTokens, now time.Time) {
	c.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
	}
	c.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Clone returns a deep copy so stores never share pointers with callers.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	out.Followers = cloneInt(c.Followers)
	out.Following = cloneInt(c.Following)
	out.PostsOrVideos = cloneInt(c.PostsOrVideos)
	out.Views = cloneInt(c.Views)
	if c.Verified != nil {
		v := *c.Verified
		out.Verified = &v
	}
	if c.AccountCreatedAt != nil {
		t := *c.AccountCreatedAt
		out.AccountCreatedAt = &t
	}
	return &out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// AuthSession is the single-use state/verifier pair held for one authorization round trip
type AuthSession struct {
	Provider     Provider  `json:"provider"`
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionKey scopes an ephemeral session to one user and one provider.
type SessionKey struct {
	UserID   uuid.UUID
	Provider Provider
}

func (k SessionKey) String() string {
	return k.UserID.String() + ":" + string(k.Provider)
}
