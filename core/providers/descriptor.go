package providers

import (
	"strings"
	"time"

	"golang.org/x/oauth2"

	"connectd/core"
)

// Descriptor is the compiled-in, read-only description of a provider.
// Functions below return fresh copies so nothing can mutate the originals.
type Descriptor struct {
	ID                    core.Provider
	AuthorizationEndpoint string
	TokenEndpoint         string
	APIBaseURL            string
	Scopes                []string
	ScopeSeparator        string
	RequiresPKCE          bool
	ClientIDParam         string
	ExtraAuthParams       map[string]string
	AuthStyle             oauth2.AuthStyle
	DefaultTokenLifetime  time.Duration
}

func (d Descriptor) scope(scopes []string) string {
	sep := d.ScopeSeparator
	if sep == "" {
		sep = " "
	}
	return strings.Join(scopes, sep)
}

func TwitterDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderTwitter,
		AuthorizationEndpoint: "https://twitter.com/i/oauth2/authorize",
		TokenEndpoint:         "https://api.twitter.com/2/oauth2/token",
		APIBaseURL:            "https://api.twitter.com",
		Scopes:                []string{"tweet.read", "users.read", "offline.access"},
		RequiresPKCE:          true,
		ClientIDParam:         "client_id",
		AuthStyle:             oauth2.AuthStyleInHeader,
		DefaultTokenLifetime:  2 * time.Hour,
	}
}

func TikTokDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderTikTok,
		AuthorizationEndpoint: "https://www.tiktok.com/v2/auth/authorize/",
		TokenEndpoint:         "https://open.tiktokapis.com/v2/oauth/token/",
		APIBaseURL:            "https://open.tiktokapis.com",
		Scopes:                []string{"user.info.basic", "user.info.profile", "user.info.stats", "video.list"},
		ScopeSeparator:        ",",
		RequiresPKCE:          true,
		ClientIDParam:         "client_key",
		AuthStyle:             oauth2.AuthStyleInParams,
		DefaultTokenLifetime:  24 * time.Hour,
	}
}

func LinkedInDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderLinkedIn,
		AuthorizationEndpoint: "https://www.linkedin.com/oauth/v2/authorization",
		TokenEndpoint:         "https://www.linkedin.com/oauth/v2/accessToken",
		APIBaseURL:            "https://api.linkedin.com",
		Scopes:                []string{"openid", "profile", "email"},
		ClientIDParam:         "client_id",
		AuthStyle:             oauth2.AuthStyleInParams,
		DefaultTokenLifetime:  60 * 24 * time.Hour,
	}
}

func YouTubeDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderYouTube,
		AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:         "https://oauth2.googleapis.com/token",
		APIBaseURL:            "https://www.googleapis.com",
		Scopes:                []string{"https://www.googleapis.com/auth/youtube.readonly"},
		RequiresPKCE:          true,
		ClientIDParam:         "client_id",
		ExtraAuthParams: map[string]string{
			"access_type":            "offline",
			"prompt":                 "consent",
			"include_granted_scopes": "true",
		},
		AuthStyle:            oauth2.AuthStyleInParams,
		DefaultTokenLifetime: time.Hour,
	}
}

func FacebookDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderFacebook,
		AuthorizationEndpoint: "https://www.facebook.com/v19.0/dialog/oauth",
		TokenEndpoint:         "https://graph.facebook.com/v19.0/oauth/access_token",
		APIBaseURL:            "https://graph.facebook.com/v19.0",
		Scopes:                []string{"public_profile", "pages_show_list", "pages_read_engagement"},
		ScopeSeparator:        ",",
		ClientIDParam:         "client_id",
		AuthStyle:             oauth2.AuthStyleInParams,
		DefaultTokenLifetime:  60 * 24 * time.Hour,
	}
}

func InstagramDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderInstagram,
		AuthorizationEndpoint: "https://www.instagram.com/oauth/authorize",
		TokenEndpoint:         "https://api.instagram.com/oauth/access_token",
		APIBaseURL:            "https://graph.instagram.com",
		Scopes:                []string{"instagram_business_basic"},
		ScopeSeparator:        ",",
		ClientIDParam:         "client_id",
		AuthStyle:             oauth2.AuthStyleInParams,
		DefaultTokenLifetime:  time.Hour,
	}
}

func MicrosoftDescriptor() Descriptor {
	return Descriptor{
		ID:                    core.ProviderMicrosoft,
		AuthorizationEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenEndpoint:         "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		APIBaseURL:            "https://graph.microsoft.com/v1.0",
		Scopes:                []string{"openid", "profile", "email", "offline_access", "User.Read"},
		RequiresPKCE:          true,
		ClientIDParam:         "client_id",
		AuthStyle:             oauth2.AuthStyleInParams,
		DefaultTokenLifetime:  time.Hour,
	}
}

// Descriptors returns the registry of every supported provider.
func Descriptors() map[core.Provider]Descriptor {
	return map[core.Provider]Descriptor{
		core.ProviderTwitter:   TwitterDescriptor(),
		core.ProviderTikTok:    TikTokDescriptor(),
		core.ProviderLinkedIn:  LinkedInDescriptor(),
		core.ProviderYouTube:   YouTubeDescriptor(),
		core.ProviderFacebook:  FacebookDescriptor(),
		core.ProviderInstagram: InstagramDescriptor(),
		core.ProviderMicrosoft: MicrosoftDescriptor(),
	}
}
