package providers

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"connectd/core"
)

type YouTubeProvider struct {
	*client
}

func NewYouTubeProvider(config *Config) *YouTubeProvider {
	return &YouTubeProvider{client: newClient(YouTubeDescriptor(), config)}
}

type youtubeChannelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			CustomURL   string `json:"customUrl"`
			PublishedAt string `json:"publishedAt"`
			Thumbnails  struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		// The API returns counts as strings.
		Statistics struct {
			ViewCount             string `json:"viewCount"`
			SubscriberCount       string `json:"subscriberCount"`
			HiddenSubscriberCount bool   `json:"hiddenSubscriberCount"`
			VideoCount            string `json:"videoCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func (y *YouTubeProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	return y.exchangeOAuth2(ctx, code, codeVerifier)
}

func (y *YouTubeProvider) FetchProfile(ctx context.Context, accessToken string) (*core.Profile, error) {
	query := url.Values{}
	query.Set("part", "snippet,statistics")
	query.Set("mine", "true")

	var resp youtubeChannelsResponse
	if err := y.getJSON(ctx, "/youtube/v3/channels", query, accessToken, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, core.NewSubresourceError(core.ProviderYouTube, "channel",
			"Create a YouTube channel for this Google account, then connect again.")
	}

	ch := resp.Items[0]
	profile := &core.Profile{
		ProviderUserID:  ch.ID,
		Username:        ch.Snippet.CustomURL,
		DisplayName:     ch.Snippet.Title,
		PostsOrVideos:   parseCount(ch.Statistics.VideoCount),
		Views:           parseCount(ch.Statistics.ViewCount),
		ProfileImageURL: ch.Snippet.Thumbnails.Default.URL,
	}
	if !ch.Statistics.HiddenSubscriberCount {
		profile.Followers = parseCount(ch.Statistics.SubscriberCount)
	}
	if published, err := time.Parse(time.RFC3339, ch.Snippet.PublishedAt); err == nil {
		profile.AccountCreatedAt = &published
	}
	return profile, nil
}

func parseCount(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
