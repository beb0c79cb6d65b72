package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"connectd/core"
)

// TikTokProvider names the client id "client_key" and reports failures
// inside 200 responses, so it does not go through x/oauth2.
type TikTokProvider struct {
	*client
}

func NewTikTokProvider(config *Config) *TikTokProvider {
	return &TikTokProvider{client: newClient(TikTokDescriptor(), config)}
}

type tiktokTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	OpenID           string `json:"open_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type tiktokUserResponse struct {
	Data struct {
		User struct {
			OpenID         string `json:"open_id"`
			Username       string `json:"username"`
			DisplayName    string `json:"display_name"`
			AvatarURL      string `json:"avatar_url"`
			IsVerified     bool   `json:"is_verified"`
			FollowerCount  int64  `json:"follower_count"`
			FollowingCount int64  `json:"following_count"`
			VideoCount     int64  `json:"video_count"`
		} `json:"user"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (t *TikTokProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	body, err := t.exchangeForm(ctx, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	var tokenResp tiktokTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}
	if tokenResp.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", core.ErrProviderTokenExchange, tokenResp.Error, tokenResp.ErrorDescription)
	}

	return t.withDefaultLifetime(&core.OAuthTokens{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
	}), nil
}

func (t *TikTokProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	query := url.Values{}
	query.Set("fields", "open_id,username,display_name,avatar_url,is_verified,follower_count,following_count,video_count")

	var resp tiktokUserResponse
	if err := t.getJSON(ctx, "/v2/user/info/", query, accessToken, &resp); err != nil {
		return nil, err
	}
	if resp.Error.Code != "" && resp.Error.Code != "ok" {
		return nil, fmt.Errorf("%w: %s: %s", core.ErrProviderProfile, resp.Error.Code, resp.Error.Message)
	}

	u := resp.Data.User
	return &core.Profile{
		ProviderUserID:  u.OpenID,
		Username:        u.Username,
		DisplayName:     u.DisplayName,
		Followers:       core.Int64(u.FollowerCount),
		Following:       core.Int64(u.FollowingCount),
		PostsOrVideos:   core.Int64(u.VideoCount),
		ProfileImageURL: u.AvatarURL,
		Verified:        core.Bool(u.IsVerified),
	}, nil
}
