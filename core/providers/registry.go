package providers

import (
	"fmt"

	"connectd/core"
)

// New returns the implementation for id, configured with config. A nil or
// incomplete config still yields a provider; the gap is reported when an
// authorization is started.
func New(id core.Provider, config *Config) (core.ConnectionProvider, error) {
	switch id {
	case core.ProviderTwitter:
		return NewTwitterProvider(config), nil
	case core.ProviderTikTok:
		return NewTikTokProvider(config), nil
	case core.ProviderLinkedIn:
		return NewLinkedInProvider(config), nil
	case core.ProviderYouTube:
		return NewYouTubeProvider(config), nil
	case core.ProviderFacebook:
		return NewFacebookProvider(config), nil
	case core.ProviderInstagram:
		return NewInstagramProvider(config), nil
	case core.ProviderMicrosoft:
		return NewMicrosoftProvider(config), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedProvider, id)
	}
}

// Build registers every supported provider. Keys of configs must name
// supported providers; they are matched the way ParseProvider matches ids.
func Build(configs map[string]*Config) (map[core.Provider]core.ConnectionProvider, error) {
	byID := make(map[core.Provider]*Config, len(configs))
	for key, config := range configs {
		id, err := core.ParseProvider(key)
		if err != nil {
			return nil, fmt.Errorf("invalid provider config: %w", err)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("invalid provider config: %s is configured twice", id)
		}
		byID[id] = config
	}

	out := make(map[core.Provider]core.ConnectionProvider, len(core.AllProviders()))
	for _, id := range core.AllProviders() {
		p, err := New(id, byID[id])
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}
