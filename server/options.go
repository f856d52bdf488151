// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capnotes/metrics"
	"github.com/hashicorp/capnotes/oidc"
)

// Defaults used by New.
const (
	DefaultStateTTL              = 10 * time.Minute
	DefaultFrontendURL           = "http://localhost:5173"
	DefaultPostLogoutRedirectURL = "http://localhost:3000"
	DefaultLogoutTimeout         = 5 * time.Second
	DefaultRateLimitRPS          = 5
	DefaultRateLimitBurst        = 10
	DefaultRequestTimeout        = 60 * time.Second
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type serverOptions struct {
	withLogger                hclog.Logger
	withProvider              *oidc.Provider
	withOAuth                 *OAuthLogin
	withMetrics               *metrics.Metrics
	withFrontendURL           string
	withPostLogoutRedirectURL string
	withStateTTL              time.Duration
	withLogoutTimeout         time.Duration
	withRateLimitRPS          float64
	withRateLimitBurst        int
	withRequestTimeout        time.Duration
	withHealthCheck           func(context.Context) error
	withTrustedProxies        []string
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger:                hclog.NewNullLogger(),
		withFrontendURL:           DefaultFrontendURL,
		withPostLogoutRedirectURL: DefaultPostLogoutRedirectURL,
		withStateTTL:              DefaultStateTTL,
		withLogoutTimeout:         DefaultLogoutTimeout,
		withRateLimitRPS:          DefaultRateLimitRPS,
		withRateLimitBurst:        DefaultRateLimitBurst,
		withRequestTimeout:        DefaultRequestTimeout,
	}
}

func getServerOpts(opt ...Option) serverOptions {
	opts := serverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: New
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithProvider provides the OIDC provider used for login, callback and
// logout. Without one, login and callback answer 500 and logout falls back to
// the post logout redirect.
func WithProvider(p *oidc.Provider) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withProvider = p
		}
	}
}

// WithOAuth enables the secondary OAuth login routes.
func WithOAuth(l *OAuthLogin) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withOAuth = l
		}
	}
}

// WithMetrics enables request metrics and the /metrics route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withMetrics = m
		}
	}
}

// WithFrontendURL provides the origin allowed by CORS.
func WithFrontendURL(u string) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok && u != "" {
			v.withFrontendURL = u
		}
	}
}

// WithPostLogoutRedirectURL provides the logout URL returned when the
// provider's end session URL cannot be built.
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok && u != "" {
			v.withPostLogoutRedirectURL = u
		}
	}
}

// WithStateTTL provides how long a login attempt stays valid.
func WithStateTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withStateTTL = d
		}
	}
}

// WithLogoutTimeout bounds the provider call made by the logout route.
func WithLogoutTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withLogoutTimeout = d
		}
	}
}

// WithRateLimit provides the per client rate limit of the /auth routes.
func WithRateLimit(rps float64, burst int) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withRateLimitRPS = rps
			v.withRateLimitBurst = burst
		}
	}
}

// WithRequestTimeout bounds the handling of every request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withRequestTimeout = d
		}
	}
}

// WithHealthCheck provides a check run by /healthz. A failure answers 503.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withHealthCheck = fn
		}
	}
}

// WithTrustedProxies lists the proxy addresses (IPs or CIDRs) whose
// X-Forwarded-For, X-Real-IP and True-Client-IP headers name the client.
// Those headers are ignored on requests from any other peer.
func WithTrustedProxies(proxies ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*serverOptions); ok {
			v.withTrustedProxies = proxies
		}
	}
}
