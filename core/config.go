package core

import "time"

type Config struct {
	JWT     JWTConfig     `yaml:"jwt"`
	Crypto  CryptoConfig  `yaml:"crypto"`
	Session SessionConfig `yaml:"session"`
	Sync    SyncConfig    `yaml:"sync"`

	// DashboardURL is where the callback endpoint sends the browser afterwards.
	// Empty means "the callback URL without OAuth parameters".
	DashboardURL string `yaml:"dashboard_url"`
}

type JWTConfig struct {
	Secret              string `yaml:"secret"`                // Secret shared with the host application
	AccessTokenDuration int    `yaml:"access_token_duration"` // Lifetime in seconds of tokens minted by the CLI
	CookieName          string `yaml:"cookie_name"`           // Cookie checked when no bearer header is sent
	Issuer              string `yaml:"issuer"`                // Expected iss, unchecked when empty
	Audience            string `yaml:"audience"`              // Expected aud, unchecked when empty
}

type CryptoConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`    // 0 disables the background reconciler
	Concurrency int           `yaml:"concurrency"` // provider calls in flight per pass
}

const (
	DefaultSessionTTL      = 10 * time.Minute
	DefaultSyncConcurrency = 4
	DefaultCookieName      = "connectd_session"
)

// WithDefaults fills unset optional values.
func (c Config) WithDefaults() Config {
	if c.Session.TTL <= 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = DefaultSyncConcurrency
	}
	if c.JWT.CookieName == "" {
		c.JWT.CookieName = DefaultCookieName
	}
	if c.JWT.AccessTokenDuration <= 0 {
		c.JWT.AccessTokenDuration = 1800
	}
	return c
}
