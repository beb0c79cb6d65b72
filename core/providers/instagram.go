package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"connectd/core"
)

// InstagramProvider only accepts professional accounts. Its token endpoint
// may wrap the token in a one-element data array.
type InstagramProvider struct {
	*client
}

func NewInstagramProvider(config *Config) *InstagramProvider {
	return &InstagramProvider{client: newClient(InstagramDescriptor(), config)}
}

type instagramToken struct {
	AccessToken string          `json:"access_token"`
	UserID      json.RawMessage `json:"user_id"`
	ExpiresIn   int             `json:"expires_in"`
}

type instagramTokenResponse struct {
	instagramToken
	Data []instagramToken `json:"data"`
}

type instagramUser struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	AccountType       string `json:"account_type"`
	ProfilePictureURL string `json:"profile_picture_url"`
	FollowersCount    *int64 `json:"followers_count"`
	FollowsCount      *int64 `json:"follows_count"`
	MediaCount        *int64 `json:"media_count"`
}

func (i *InstagramProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	body, err := i.exchangeForm(ctx, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	var tokenResp instagramTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}

	tok := tokenResp.instagramToken
	if tok.AccessToken == "" && len(tokenResp.Data) > 0 {
		tok = tokenResp.Data[0]
	}

	return i.withDefaultLifetime(&core.OAuthTokens{
		AccessToken: tok.AccessToken,
		ExpiresIn:   tok.ExpiresIn,
	}), nil
}

func (i *InstagramProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	query := url.Values{}
	query.Set("fields", "id,user_id,username,name,account_type,profile_picture_url,followers_count,follows_count,media_count")

	var user instagramUser
	if err := i.getJSON(ctx, "/me", query, accessToken, &user); err != nil {
		return nil, err
	}

	switch user.AccountType {
	case "BUSINESS", "MEDIA_CREATOR":
	default:
		return nil, core.NewSubresourceError(core.ProviderInstagram, "professional account",
			"Switch your Instagram account to a Business or Creator account, then connect again.")
	}

	id := user.UserID
	if id == "" {
		id = user.ID
	}
	return &core.Profile{
		ProviderUserID:  id,
		Username:        user.Username,
		DisplayName:     user.Name,
		Followers:       user.FollowersCount,
		Following:       user.FollowsCount,
		PostsOrVideos:   user.MediaCount,
		ProfileImageURL: user.ProfilePictureURL,
	}, nil
}
