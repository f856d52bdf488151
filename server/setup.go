// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/config"
	"github.com/hashicorp/capnotes/jwt"
	"github.com/hashicorp/capnotes/metrics"
	"github.com/hashicorp/capnotes/oidc"
	"github.com/hashicorp/capnotes/oidc/callback"
	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

const redisPingTimeout = 2 * time.Second

// NewProvider discovers the identity provider configured by c. It returns
// nil without an error when no provider is configured.
func NewProvider(c *config.Config, logger hclog.Logger) (*oidc.Provider, error) {
	const op = "server.NewProvider"
	if !c.IDP.Enabled() {
		return nil, nil
	}
	pc, err := oidc.NewConfig(c.IDP.BaseURL, c.IDP.ClientID, oidc.ClientSecret(c.IDP.ClientSecret),
		oidc.WithRedirectURL(c.IDP.RedirectURI),
		oidc.WithPostLogoutRedirectURL(c.IDP.PostLogoutRedirectURI),
		oidc.WithLogoutURL(c.IDP.LogoutURL),
		oidc.WithScopes(c.IDP.Scopes...),
		oidc.WithProviderCA(c.IDP.CAPEM),
	)
	if err != nil {
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
	}
	p, err := oidc.NewProvider(pc, oidc.WithLogger(logger.Named("oidc")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// NewStrategy builds the bearer token strategy selected by c. The jwks
// strategy falls back to the key set discovered from p when no key source is
// configured. m may be nil.
func NewStrategy(c *config.Config, p *oidc.Provider, m *metrics.Metrics, logger hclog.Logger) (auth.Strategy, error) {
	const op = "server.NewStrategy"
	opts := []auth.Option{
		auth.WithLogger(logger.Named("auth")),
		auth.WithClockSkew(c.JWT.ClockSkew),
	}
	if m != nil {
		opts = append(opts, auth.WithVerifyHook(m.ObserveVerification))
	}

	switch c.JWT.Strategy {
	case auth.StrategyIntrospection:
		client, err := sdkhttp.NewClient(c.IDP.CAPEM)
		if err != nil {
			return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
		}
		opts = append(opts,
			auth.WithHTTPClient(client),
			auth.WithClientCredentials(c.IDP.ClientID, c.IDP.ClientSecret),
		)
		return auth.NewIntrospectionStrategy(c.JWT.IntrospectionURL, c.JWT.Issuer, c.JWT.Audiences, opts...)

	case auth.StrategyJWKS, "":
		keySet, err := newKeySet(c, p, m, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, auth.WithSigningAlgorithms(c.JWT.Algorithms...))
		return auth.NewJWKSStrategy(keySet, c.JWT.Issuer, c.JWT.Audiences, opts...)

	default:
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("unknown auth strategy %q", c.JWT.Strategy)))
	}
}

func newKeySet(c *config.Config, p *oidc.Provider, m *metrics.Metrics, logger hclog.Logger) (jwt.KeySet, error) {
	const op = "server.newKeySet"
	if len(c.JWT.PublicKeys) > 0 {
		ks, err := jwt.NewStaticKeySet(c.JWT.PublicKeys)
		if err != nil {
			return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
		}
		return ks, nil
	}

	opts := []jwt.Option{
		jwt.WithTTL(c.JWT.CacheTTL),
		jwt.WithMinRefreshInterval(c.JWT.MinRefreshInterval),
		jwt.WithFetchTimeout(c.JWT.FetchTimeout),
		jwt.WithLogger(logger.Named("jwks")),
	}
	if m != nil {
		opts = append(opts, jwt.WithFetchHook(m.ObserveKeySetFetch))
	}
	jwksURL := c.JWT.JWKSURL
	switch {
	case jwksURL != "":
		opts = append(opts, jwt.WithCACert(c.IDP.CAPEM))
	case p != nil && p.JWKSURL() != "":
		jwksURL = p.JWKSURL()
		opts = append(opts, jwt.WithHTTPClient(p.HTTPClient()))
	default:
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("no JWKS URL, public keys or identity provider configured")))
	}
	ks, err := jwt.NewRemoteKeySet(jwksURL, opts...)
	if err != nil {
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
	}
	return ks, nil
}

// NewRequestStore returns the store for pending logins: redis when redisURL
// is set, memory otherwise. The returned func releases the store.
func NewRequestStore(ctx context.Context, redisURL string) (callback.RequestStore, func() error, error) {
	const op = "server.NewRequestStore"
	if redisURL == "" {
		return callback.NewMemoryRequestStore(), func() error { return nil }, nil
	}
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("%s: unable to reach redis: %w", op, err)
	}
	store, err := callback.NewRedisRequestStore(client, callback.DefaultRedisKeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, client.Close, nil
}
