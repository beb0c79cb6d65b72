package providers

import (
	"context"

	"connectd/core"
)

type LinkedInProvider struct {
	*client
}

func NewLinkedInProvider(config *Config) *LinkedInProvider {
	return &LinkedInProvider{client: newClient(LinkedInDescriptor(), config)}
}

type linkedinUserInfo struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
}

func (l *LinkedInProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	return l.exchangeOAuth2(ctx, code, codeVerifier)
}

func (l *LinkedInProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	var info linkedinUserInfo
	if err := l.getJSON(ctx, "/v2/userinfo", nil, accessToken, &info); err != nil {
		return nil, err
	}

	return &core.Profile{
		ProviderUserID:  info.Sub,
		Username:        info.Email,
		DisplayName:     info.Name,
		ProfileImageURL: info.Picture,
		Verified:        core.Bool(info.EmailVerified),
	}, nil
}
