package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"connectd/core"
)

type Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	APIBaseURL   string   `yaml:"api_base_url"`
}

// client holds what every provider shares: the descriptor with config
// overrides applied and an HTTP client.
type client struct {
	desc       Descriptor
	config     Config
	httpClient *http.Client
}

func newClient(desc Descriptor, config *Config) *client {
	c := &client{
		desc:       desc,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if config != nil {
		c.config = *config
	}
	if c.config.AuthURL != "" {
		c.desc.AuthorizationEndpoint = c.config.AuthURL
	}
	if c.config.TokenURL != "" {
		c.desc.TokenEndpoint = c.config.TokenURL
	}
	if c.config.APIBaseURL != "" {
		c.desc.APIBaseURL = strings.TrimRight(c.config.APIBaseURL, "/")
	}
	if len(c.config.Scopes) > 0 {
		c.desc.Scopes = c.config.Scopes
	}
	return c
}

func (c *client) Provider() core.Provider {
	return c.desc.ID
}

func (c *client) RequiresPKCE() bool {
	return c.desc.RequiresPKCE
}

func (c *client) Descriptor() Descriptor {
	return c.desc
}

func (c *client) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		RedirectURL:  c.config.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.desc.AuthorizationEndpoint,
			TokenURL:  c.desc.TokenEndpoint,
			AuthStyle: c.desc.AuthStyle,
		},
	}
}

func (c *client) AuthCodeURL(req core.AuthRequest) (string, error) {
	if c.config.ClientID == "" {
		return "", fmt.Errorf("%w: %s client_id is not set", core.ErrProviderConfig, c.desc.ID)
	}
	if c.config.RedirectURI == "" {
		return "", fmt.Errorf("%w: %s redirect_uri is not set", core.ErrProviderConfig, c.desc.ID)
	}
	if c.desc.RequiresPKCE && req.CodeChallenge == "" {
		return "", fmt.Errorf("%w: %s requires a code challenge", core.ErrProviderConfig, c.desc.ID)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", c.desc.scope(c.desc.Scopes)),
	}
	if req.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", core.CodeChallengeMethod),
		)
	}
	for k, v := range c.desc.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	raw := c.oauth2Config().AuthCodeURL(req.State, opts...)
	if c.desc.ClientIDParam == "" || c.desc.ClientIDParam == "client_id" {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrProviderConfig, err)
	}
	q := u.Query()
	q.Del("client_id")
	q.Set(c.desc.ClientIDParam, c.config.ClientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// exchangeOAuth2 performs a standard authorization code exchange.
func (c *client) exchangeOAuth2(ctx context.Context, code, codeVerifier string) (*core.OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := c.oauth2Config().Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, fmt.Errorf("%w: status %d: %s", core.ErrProviderTokenExchange, re.Response.StatusCode, string(re.Body))
		}
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}

	tokens := &core.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		tokens.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return c.withDefaultLifetime(tokens), nil
}

// exchangeForm posts the code as a form, naming the client id the way the
// descriptor says, and returns the raw response body.
func (c *client) exchangeForm(ctx context.Context, code, codeVerifier string) ([]byte, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set(c.desc.ClientIDParam, c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("redirect_uri", c.config.RedirectURI)
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		c.desc.TokenEndpoint,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", core.ErrProviderTokenExchange, resp.StatusCode, string(body))
	}

	return body, nil
}

func (c *client) withDefaultLifetime(t *core.OAuthTokens) *core.OAuthTokens {
	if t.ExpiresIn <= 0 {
		t.ExpiresIn = int(c.desc.DefaultTokenLifetime.Seconds())
	}
	return t
}

// getJSON issues an authenticated GET against the provider API and decodes
// the response into out.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, accessToken string, out interface{}) error {
	endpoint := c.desc.APIBaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrProviderProfile, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrProviderProfile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s status %d: %s", core.ErrProviderProfile, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrProviderProfile, err)
	}
	return nil
}
