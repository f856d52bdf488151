// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capnotes/jwt"
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

// WithExpirySkew provides an optional expiry skew duration for: Request.IsExpired
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*reqOptions); ok {
			v.withExpirySkew = d
		}
	}
}

// WithNow provides an optional clock for: NewRequest, Request.IsExpired,
// NewToken
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *reqOptions:
			v.withNow = now
		case *tokenOptions:
			v.withNow = now
		}
	}
}

// WithRedirectURL provides an optional redirect URL for: NewRequest,
// NewConfig
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *reqOptions:
			v.withRedirectURL = u
		case *configOptions:
			v.withRedirectURL = u
		}
	}
}

// WithOrganizationID provides an optional organization hint for: NewRequest
func WithOrganizationID(id string) Option {
	return func(o interface{}) {
		if v, ok := o.(*reqOptions); ok {
			v.withOrganizationID = id
		}
	}
}

// WithConnectionID provides an optional connection hint for: NewRequest
func WithConnectionID(id string) Option {
	return func(o interface{}) {
		if v, ok := o.(*reqOptions); ok {
			v.withConnectionID = id
		}
	}
}

// WithScopes provides an optional list of scopes for: NewConfig
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for: NewConfig
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for: NewConfig
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = cert
		}
	}
}

// WithSigningAlgs provides an optional list of id_token signing algorithms
// for: NewConfig
func WithSigningAlgs(algs ...jwt.Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withSigningAlgs = algs
		}
	}
}

// WithPostLogoutRedirectURL provides an optional post logout redirect for:
// NewConfig
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withPostLogoutRedirectURL = u
		}
	}
}

// WithLogoutURL provides an optional end session endpoint used when the
// provider does not publish one, for: NewConfig
func WithLogoutURL(u string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withLogoutURL = u
		}
	}
}

// WithLogger provides an optional logger for: NewProvider
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for: NewProvider. It
// replaces the client built from the config's ProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withHTTPClient = c
		}
	}
}

// WithExchangeRetryTimeout provides an optional timeout for the single retry
// of a failed token request for: NewProvider
func WithExchangeRetryTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withExchangeRetryTimeout = d
		}
	}
}
