package providers

import (
	"context"
	"net/url"

	"connectd/core"
)

type FacebookProvider struct {
	*client
}

func NewFacebookProvider(config *Config) *FacebookProvider {
	return &FacebookProvider{client: newClient(FacebookDescriptor(), config)}
}

type facebookUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type facebookAccountsResponse struct {
	Data []struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Username       string `json:"username"`
		FanCount       *int64 `json:"fan_count"`
		FollowersCount *int64 `json:"followers_count"`
		Picture        struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	} `json:"data"`
}

func (f *FacebookProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	return f.exchangeOAuth2(ctx, code, codeVerifier)
}

// FetchProfile describes the first page the user manages. A user without a
// page cannot be connected.
func (f *FacebookProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	query := url.Values{}
	query.Set("fields", "id,name")

	var user facebookUser
	if err := f.getJSON(ctx, "/me", query, accessToken, &user); err != nil {
		return nil, err
	}

	query = url.Values{}
	query.Set("fields", "id,name,username,fan_count,followers_count,picture{url}")

	var accounts facebookAccountsResponse
	if err := f.getJSON(ctx, "/me/accounts", query, accessToken, &accounts); err != nil {
		return nil, err
	}
	if len(accounts.Data) == 0 {
		return nil, core.NewSubresourceError(core.ProviderFacebook, "page",
			"Create a Facebook Page or get admin access to one, then connect again.")
	}

	page := accounts.Data[0]
	followers := page.FollowersCount
	if followers == nil {
		followers = page.FanCount
	}

	displayName := page.Name
	if displayName == "" {
		displayName = user.Name
	}
	return &core.Profile{
		ProviderUserID:  user.ID,
		Username:        page.Username,
		DisplayName:     displayName,
		Followers:       followers,
		ProfileImageURL: page.Picture.Data.URL,
	}, nil
}
