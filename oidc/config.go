// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/capnotes/jwt"
	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

// ScopeOpenID is the scope every oidc authentication request includes.
const ScopeOpenID = "openid"

// DefaultScopes are requested when the config sets none.
var DefaultScopes = []string{ScopeOpenID, "profile", "email", "offline_access"}

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string { return RedactedClientSecret }

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedClientSecret) }

// Config represents the configuration for an OIDC authorization code flow
// with a single provider.
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Issuer is the provider's issuer URL. Discovery is performed against
	// it.
	Issuer string

	// RedirectURL is the default callback URL. A Request may carry its own;
	// when both are empty, authorization URLs cannot be built.
	RedirectURL string

	// PostLogoutRedirectURL is where the provider sends the user after
	// logout.
	PostLogoutRedirectURL string

	// LogoutURL is an optional end session endpoint, used when discovery does
	// not publish one.
	LogoutURL string

	// Scopes to request. "openid" is always requested.
	Scopes []string

	// Audiences is an optional list of values an id_token's "aud" must
	// contain one of. The client id is always accepted.
	Audiences []string

	// SupportedSigningAlgs are the id_token signing algorithms accepted.
	SupportedSigningAlgs []jwt.Alg

	// ProviderCA is an optional CA cert PEM to use when sending requests to
	// the provider.
	ProviderCA string
}

type configOptions struct {
	withRedirectURL           string
	withPostLogoutRedirectURL string
	withLogoutURL             string
	withScopes                []string
	withAudiences             []string
	withSigningAlgs           []jwt.Alg
	withProviderCA            string
}

func configDefaults() configOptions {
	return configOptions{
		withScopes:      DefaultScopes,
		withSigningAlgs: jwt.DefaultSigningAlgorithms,
	}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewConfig composes a new config for a provider and validates it.
//
// Supported options: WithRedirectURL, WithPostLogoutRedirectURL,
// WithLogoutURL, WithScopes, WithAudiences, WithSigningAlgs, WithProviderCA
func NewConfig(issuer, clientID string, clientSecret ClientSecret, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:                issuer,
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RedirectURL:           opts.withRedirectURL,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		LogoutURL:             opts.withLogoutURL,
		Scopes:                opts.withScopes,
		Audiences:             opts.withAudiences,
		SupportedSigningAlgs:  opts.withSigningAlgs,
		ProviderCA:            opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Every problem found is reported.
// It doesn't verify the issuer is discoverable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("client secret is empty: %w", ErrInvalidParameter))
	}
	if err := validURL("issuer", c.Issuer, true); err != nil {
		result = multierror.Append(result, err)
	}
	for _, u := range []struct{ name, v string }{
		{"redirect URL", c.RedirectURL},
		{"post logout redirect URL", c.PostLogoutRedirectURL},
		{"logout URL", c.LogoutURL},
	} {
		if err := validURL(u.name, u.v, false); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, fmt.Errorf("supported algorithms is empty: %w", ErrInvalidParameter))
	} else if err := jwt.SupportedSigningAlgorithm(c.SupportedSigningAlgs...); err != nil {
		result = multierror.Append(result, fmt.Errorf("%w: %w", ErrInvalidParameter, err))
	}
	if c.ProviderCA != "" {
		if _, err := c.HTTPClient(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validURL(name, v string, required bool) error {
	if v == "" {
		if required {
			return fmt.Errorf("%s is empty: %w", name, ErrInvalidParameter)
		}
		return nil
	}
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("%s %q is invalid: %w", name, v, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s %q scheme is not http or https: %w", name, v, ErrInvalidParameter)
	}
	return nil
}

// HTTPClient creates a new http client for the configured provider.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkhttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkhttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// scopes returns the configured scopes with "openid" first and no
// duplicates.
func (c *Config) scopes() []string {
	out := []string{ScopeOpenID}
	seen := map[string]struct{}{ScopeOpenID: {}}
	for _, s := range c.Scopes {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
