package providers

import (
	"context"
	"net/url"
	"time"

	"connectd/core"
)

type TwitterProvider struct {
	*client
}

func NewTwitterProvider(config *Config) *TwitterProvider {
	return &TwitterProvider{client: newClient(TwitterDescriptor(), config)}
}

type twitterUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
		Verified        bool   `json:"verified"`
		CreatedAt       string `json:"created_at"`
		PublicMetrics   struct {
			FollowersCount int64 `json:"followers_count"`
			FollowingCount int64 `json:"following_count"`
			TweetCount     int64 `json:"tweet_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

func (t *TwitterProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	return t.exchangeOAuth2(ctx, code, codeVerifier)
}

func (t *TwitterProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	query := url.Values{}
	query.Set("user.fields", "public_metrics,profile_image_url,verified,created_at")

	var resp twitterUserResponse
	if err := t.getJSON(ctx, "/2/users/me", query, accessToken, &resp); err != nil {
		return nil, err
	}

	u := resp.Data
	profile := &core.Profile{
		ProviderUserID:  u.ID,
		Username:        u.Username,
		DisplayName:     u.Name,
		Followers:       core.Int64(u.PublicMetrics.FollowersCount),
		Following:       core.Int64(u.PublicMetrics.FollowingCount),
		PostsOrVideos:   core.Int64(u.PublicMetrics.TweetCount),
		ProfileImageURL: u.ProfileImageURL,
		Verified:        core.Bool(u.Verified),
	}
	if created, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
		profile.AccountCreatedAt = &created
	}
	return profile, nil
}
