package authsession

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config defines a public type used by authsession APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	HTTP      HTTPConfig
	Endpoints EndpointConfig
	Storage   StorageConfig
	Token     TokenConfig
	Events    EventsConfig
	Metrics   MetricsConfig
}

/*
====================================
HTTP CONFIG
====================================
*/

// HTTPConfig defines a public type used by authsession APIs.
//
// HTTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HTTPConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

/*
====================================
ENDPOINT CONFIG
====================================
*/

// EndpointConfig defines a public type used by authsession APIs.
//
// Login, Refresh, and Profile are request paths relative to BaseURL. All
// three are auth-exempt in the gateway: a 401 on any of them must never
// enter the refresh-and-retry loop, or a rejected refresh token could retry
// itself forever. ExtraExempt adds caller-defined paths to that set.
type EndpointConfig struct {
	Login       string
	Refresh     string
	Profile     string
	ExtraExempt []string
}

// StorageConfig defines a public type used by authsession APIs.
//
// The three token/profile keys are the logical slots owned by the session
// client. CleanupKeys lists additional application keys (domain caches,
// feature flags) cleared best-effort during logout.
type StorageConfig struct {
	AccessTokenKey  string
	RefreshTokenKey string
	ProfileKey      string
	CleanupKeys     []string
}

// TokenConfig defines a public type used by authsession APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// ExpirySkew is how close to its exp claim an access token may get
	// before the gateway refreshes proactively instead of spending a
	// round-trip on a guaranteed 401.
	ExpirySkew time.Duration
}

// EventsConfig defines a public type used by authsession APIs.
//
// EventsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authsession APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration used when a Builder is created
// without [Builder.WithConfig].
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:   15 * time.Second,
			UserAgent: "clinicore-authsession/1",
		},
		Endpoints: EndpointConfig{
			Login:   "/auth/login",
			Refresh: "/auth/refresh",
			Profile: "/auth/me",
		},
		Storage: StorageConfig{
			AccessTokenKey:  "auth.access_token",
			RefreshTokenKey: "auth.refresh_token",
			ProfileKey:      "auth.profile",
		},
		Token: TokenConfig{
			ExpirySkew: 30 * time.Second,
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
func (c *Config) Validate() error {
	// HTTP
	if c.HTTP.BaseURL == "" {
		return errors.New("HTTP BaseURL must be set")
	}
	parsed, err := url.Parse(c.HTTP.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("HTTP BaseURL must be an absolute URL")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("HTTP Timeout must be > 0")
	}

	// Endpoints
	for _, pair := range []struct {
		name string
		path string
	}{
		{"Login", c.Endpoints.Login},
		{"Refresh", c.Endpoints.Refresh},
		{"Profile", c.Endpoints.Profile},
	} {
		if pair.path == "" || !strings.HasPrefix(pair.path, "/") {
			return errors.New("Endpoints " + pair.name + " must be a non-empty path starting with /")
		}
	}
	if c.Endpoints.Login == c.Endpoints.Refresh {
		return errors.New("Endpoints Login and Refresh must differ")
	}
	for _, p := range c.Endpoints.ExtraExempt {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Endpoints ExtraExempt entries must start with /")
		}
	}

	// Storage
	if c.Storage.AccessTokenKey == "" || c.Storage.RefreshTokenKey == "" || c.Storage.ProfileKey == "" {
		return errors.New("Storage keys must all be set")
	}
	if c.Storage.AccessTokenKey == c.Storage.RefreshTokenKey ||
		c.Storage.AccessTokenKey == c.Storage.ProfileKey ||
		c.Storage.RefreshTokenKey == c.Storage.ProfileKey {
		return errors.New("Storage keys must be distinct")
	}

	// Token
	if c.Token.ExpirySkew < 0 {
		return errors.New("Token ExpirySkew must be >= 0")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when Events are enabled")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Endpoints.ExtraExempt = append([]string(nil), cfg.Endpoints.ExtraExempt...)
	out.Storage.CleanupKeys = append([]string(nil), cfg.Storage.CleanupKeys...)
	return out
}
