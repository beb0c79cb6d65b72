package providers

import (
	"context"

	"connectd/core"
)

type MicrosoftProvider struct {
	*client
}

func NewMicrosoftProvider(config *Config) *MicrosoftProvider {
	return &MicrosoftProvider{client: newClient(MicrosoftDescriptor(), config)}
}

type microsoftUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

func (m *MicrosoftProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	return m.exchangeOAuth2(ctx, code, codeVerifier)
}

func (m *MicrosoftProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	var user microsoftUser
	if err := m.getJSON(ctx, "/me", nil, accessToken, &user); err != nil {
		return nil, err
	}

	username := user.Mail
	if username == "" {
		username = user.UserPrincipalName
	}
	return &core.Profile{
		ProviderUserID: user.ID,
		Username:       username,
		DisplayName:    user.DisplayName,
	}, nil
}
