// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config loads the server configuration from the environment and an
// optional config file.
package config

import (
	"encoding/pem"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/jwt"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Port         int
	FrontendURL  string
	LogLevel     string
	LogFormat    string
	DatabasePath string
	RedisURL     string
	StateTTL     time.Duration

	// TrustedProxies are the proxy IPs or CIDRs allowed to name the client
	// in forwarding headers.
	TrustedProxies []string

	IDP       IDP
	JWT       JWT
	OAuth     OAuth
	RateLimit RateLimit
}

// IDP configures the OIDC identity provider used for login and logout.
type IDP struct {
	BaseURL               string
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	PostLogoutRedirectURI string
	Scopes                []string
	LogoutURL             string
	CAPEM                 string
}

// Enabled reports whether an identity provider is configured.
func (c IDP) Enabled() bool { return c.BaseURL != "" }

// JWT configures bearer token verification.
type JWT struct {
	Strategy           string
	Domain             string
	Audiences          []string
	Issuer             string
	JWKSURL            string
	PublicKeys         []string
	Algorithms         []jwt.Alg
	CacheTTL           time.Duration
	MinRefreshInterval time.Duration
	FetchTimeout       time.Duration
	ClockSkew          time.Duration
	IntrospectionURL   string
}

// OAuth configures the secondary plain OAuth 2.0 login.
type OAuth struct {
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	UserInfoURL  string
}

// Enabled reports whether any of the OAuth settings is present.
func (c OAuth) Enabled() bool {
	return c.AuthorizeURL != "" || c.TokenURL != "" || c.ClientID != "" ||
		c.CallbackURL != "" || c.UserInfoURL != ""
}

// RateLimit bounds requests to /auth per client address.
type RateLimit struct {
	RPS   float64
	Burst int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("frontend_url", "http://localhost:5173")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("database_path", "capnotes.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("state_ttl", 10*time.Minute)

	v.SetDefault("idp_base_url", "")
	v.SetDefault("idp_client_id", "")
	v.SetDefault("idp_client_secret", "")
	v.SetDefault("idp_redirect_uri", "")
	v.SetDefault("idp_post_logout_redirect_uri", "http://localhost:3000")
	v.SetDefault("idp_scopes", "openid profile email offline_access")
	v.SetDefault("idp_logout_url", "")
	v.SetDefault("idp_ca_pem", "")

	v.SetDefault("auth_strategy", auth.StrategyJWKS)
	v.SetDefault("jwt_domain", "")
	v.SetDefault("jwt_audience", "")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("jwt_jwks_url", "")
	v.SetDefault("jwt_public_keys", "")
	v.SetDefault("jwt_algorithms", string(jwt.RS256))
	v.SetDefault("jwt_cache_ttl", jwt.DefaultKeySetTTL)
	v.SetDefault("jwt_min_refresh_interval", jwt.DefaultMinRefreshInterval)
	v.SetDefault("jwt_fetch_timeout", jwt.DefaultFetchTimeout)
	v.SetDefault("jwt_clock_skew", auth.DefaultClockSkew)
	v.SetDefault("introspection_url", "")

	v.SetDefault("oauth_authorize_url", "")
	v.SetDefault("oauth_token_url", "")
	v.SetDefault("oauth_client_id", "")
	v.SetDefault("oauth_client_secret", "")
	v.SetDefault("oauth_callback_url", "")
	v.SetDefault("oauth_userinfo_url", "")

	v.SetDefault("rate_limit_rps", 5)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("trusted_proxies", "")
}

// New returns a viper instance that reads the environment, with every
// default registered. Keys are the lower-cased variable names.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	SetDefaults(v)
	return v
}

// Load reads the configuration from v, reading the file named by its
// "config" key first when set, and validates it.
func Load(v *viper.Viper) (*Config, error) {
	const op = "config.Load"
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%s: unable to read %s: %w", op, file, err)
		}
	}

	c := &Config{
		Port:         v.GetInt("port"),
		FrontendURL:  v.GetString("frontend_url"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    strings.ToLower(v.GetString("log_format")),
		DatabasePath: v.GetString("database_path"),
		RedisURL:     v.GetString("redis_url"),
		StateTTL:     v.GetDuration("state_ttl"),
		IDP: IDP{
			BaseURL:               v.GetString("idp_base_url"),
			ClientID:              v.GetString("idp_client_id"),
			ClientSecret:          v.GetString("idp_client_secret"),
			RedirectURI:           v.GetString("idp_redirect_uri"),
			PostLogoutRedirectURI: v.GetString("idp_post_logout_redirect_uri"),
			Scopes:                fields(v.GetString("idp_scopes")),
			LogoutURL:             v.GetString("idp_logout_url"),
			CAPEM:                 v.GetString("idp_ca_pem"),
		},
		JWT: JWT{
			Strategy:           strings.ToLower(v.GetString("auth_strategy")),
			Domain:             v.GetString("jwt_domain"),
			Audiences:          fields(v.GetString("jwt_audience")),
			Issuer:             v.GetString("jwt_issuer"),
			JWKSURL:            v.GetString("jwt_jwks_url"),
			PublicKeys:         splitPEM(v.GetString("jwt_public_keys")),
			CacheTTL:           v.GetDuration("jwt_cache_ttl"),
			MinRefreshInterval: v.GetDuration("jwt_min_refresh_interval"),
			FetchTimeout:       v.GetDuration("jwt_fetch_timeout"),
			ClockSkew:          v.GetDuration("jwt_clock_skew"),
			IntrospectionURL:   v.GetString("introspection_url"),
		},
		OAuth: OAuth{
			AuthorizeURL: v.GetString("oauth_authorize_url"),
			TokenURL:     v.GetString("oauth_token_url"),
			ClientID:     v.GetString("oauth_client_id"),
			ClientSecret: v.GetString("oauth_client_secret"),
			CallbackURL:  v.GetString("oauth_callback_url"),
			UserInfoURL:  v.GetString("oauth_userinfo_url"),
		},
		RateLimit: RateLimit{
			RPS:   v.GetFloat64("rate_limit_rps"),
			Burst: v.GetInt("rate_limit_burst"),
		},
		TrustedProxies: fields(strings.ReplaceAll(v.GetString("trusted_proxies"), ",", " ")),
	}
	for _, a := range fields(strings.ReplaceAll(v.GetString("jwt_algorithms"), ",", " ")) {
		c.JWT.Algorithms = append(c.JWT.Algorithms, jwt.Alg(a))
	}
	c.resolve()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// resolve derives the legacy domain settings: a JWT_DOMAIN implies the
// issuer https://{domain}/ and its well-known JWKS URL. Without either, the
// identity provider's issuer is used.
func (c *Config) resolve() {
	domain := strings.TrimSuffix(strings.TrimPrefix(c.JWT.Domain, "https://"), "/")
	if c.JWT.Issuer == "" {
		switch {
		case domain != "":
			c.JWT.Issuer = "https://" + domain + "/"
		case c.IDP.BaseURL != "":
			c.JWT.Issuer = c.IDP.BaseURL
		}
	}
	if c.JWT.JWKSURL == "" && domain != "" && len(c.JWT.PublicKeys) == 0 {
		c.JWT.JWKSURL = "https://" + domain + "/.well-known/jwks.json"
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var result *multierror.Error
	add := func(format string, a ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format+": %w", append(a, ErrInvalidConfig)...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("PORT %d is out of range", c.Port)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		add("LOG_FORMAT %q is not text or json", c.LogFormat)
	}
	if c.DatabasePath == "" {
		add("DATABASE_PATH is required")
	}
	if c.StateTTL <= 0 {
		add("STATE_TTL must be positive")
	}
	checkURL(add, "FRONTEND_URL", c.FrontendURL, false)
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			add("REDIS_URL is invalid")
		}
	}

	if c.IDP.Enabled() {
		checkURL(add, "IDP_BASE_URL", c.IDP.BaseURL, true)
		if c.IDP.ClientID == "" {
			add("IDP_CLIENT_ID is required with IDP_BASE_URL")
		}
		if c.IDP.ClientSecret == "" {
			add("IDP_CLIENT_SECRET is required with IDP_BASE_URL")
		}
		checkURL(add, "IDP_REDIRECT_URI", c.IDP.RedirectURI, false)
		checkURL(add, "IDP_POST_LOGOUT_REDIRECT_URI", c.IDP.PostLogoutRedirectURI, false)
		checkURL(add, "IDP_LOGOUT_URL", c.IDP.LogoutURL, false)
	}

	switch c.JWT.Strategy {
	case auth.StrategyJWKS:
		if c.JWT.Issuer == "" {
			add("JWT_ISSUER, JWT_DOMAIN or IDP_BASE_URL is required")
		}
		if len(c.JWT.Audiences) == 0 {
			add("JWT_AUDIENCE is required")
		}
		if c.JWT.JWKSURL == "" && len(c.JWT.PublicKeys) == 0 && !c.IDP.Enabled() {
			add("JWT_JWKS_URL, JWT_DOMAIN, JWT_PUBLIC_KEYS or IDP_BASE_URL is required")
		}
		checkURL(add, "JWT_JWKS_URL", c.JWT.JWKSURL, false)
		for i, k := range c.JWT.PublicKeys {
			if _, err := jwt.ParsePublicKeyPEM([]byte(k)); err != nil {
				add("JWT_PUBLIC_KEYS key %d is invalid", i+1)
			}
		}
	case auth.StrategyIntrospection:
		if c.JWT.Issuer == "" {
			add("JWT_ISSUER or IDP_BASE_URL is required")
		}
		if len(c.JWT.Audiences) == 0 {
			add("JWT_AUDIENCE is required")
		}
		if c.JWT.IntrospectionURL == "" {
			add("INTROSPECTION_URL is required with AUTH_STRATEGY=introspection")
		}
		checkURL(add, "INTROSPECTION_URL", c.JWT.IntrospectionURL, false)
		if c.IDP.ClientID == "" || c.IDP.ClientSecret == "" {
			add("IDP_CLIENT_ID and IDP_CLIENT_SECRET are required with AUTH_STRATEGY=introspection")
		}
	default:
		add("AUTH_STRATEGY %q is not jwks or introspection", c.JWT.Strategy)
	}
	if len(c.JWT.Algorithms) == 0 {
		add("JWT_ALGORITHMS is empty")
	} else if err := jwt.SupportedSigningAlgorithm(c.JWT.Algorithms...); err != nil {
		add("JWT_ALGORITHMS %v: %s", c.JWT.Algorithms, err)
	}
	if c.JWT.CacheTTL <= 0 {
		add("JWT_CACHE_TTL must be positive")
	}
	if c.JWT.MinRefreshInterval < 0 {
		add("JWT_MIN_REFRESH_INTERVAL cannot be negative")
	}
	if c.JWT.FetchTimeout <= 0 {
		add("JWT_FETCH_TIMEOUT must be positive")
	}
	if c.JWT.ClockSkew < 0 {
		add("JWT_CLOCK_SKEW cannot be negative")
	}

	if c.OAuth.Enabled() {
		for name, v := range map[string]string{
			"OAUTH_AUTHORIZE_URL": c.OAuth.AuthorizeURL,
			"OAUTH_TOKEN_URL":     c.OAuth.TokenURL,
			"OAUTH_CALLBACK_URL":  c.OAuth.CallbackURL,
			"OAUTH_USERINFO_URL":  c.OAuth.UserInfoURL,
		} {
			if v == "" {
				add("%s is required when OAuth login is configured", name)
				continue
			}
			checkURL(add, name, v, true)
		}
		if c.OAuth.ClientID == "" {
			add("OAUTH_CLIENT_ID is required when OAuth login is configured")
		}
	}

	if c.RateLimit.RPS <= 0 {
		add("RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		add("RATE_LIMIT_BURST must be positive")
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			add("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// checkURL reports v when it is not an absolute http(s) URL. Empty values
// are reported only when required.
func checkURL(add func(string, ...interface{}), name, v string, required bool) {
	if v == "" {
		if required {
			add("%s is required", name)
		}
		return
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("%s %q is not an http(s) URL", name, v)
	}
}

func fields(s string) []string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return nil
	}
	return f
}

// splitPEM splits concatenated PEM blocks. Text that is not PEM is kept as
// a single entry so that validation reports it.
func splitPEM(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	rest := []byte(s)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		out = append(out, string(pem.EncodeToMemory(block)))
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}
