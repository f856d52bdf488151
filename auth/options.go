// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

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
		o(opts)
	}
}

type errorOptions struct {
	withOp   string
	withMsg  string
	withCode string
	withWrap error
}

func getErrorOpts(opt ...Option) errorOptions {
	opts := errorOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOp provides an optional operation name for: NewError.
func WithOp(op string) Option {
	return func(o interface{}) {
		if v, ok := o.(*errorOptions); ok {
			v.withOp = op
		}
	}
}

// WithMsg provides an optional client safe message for: NewError.
func WithMsg(msg string) Option {
	return func(o interface{}) {
		if v, ok := o.(*errorOptions); ok {
			v.withMsg = msg
		}
	}
}

// WithCode provides an optional stable error code for: NewError.
func WithCode(code string) Option {
	return func(o interface{}) {
		if v, ok := o.(*errorOptions); ok {
			v.withCode = code
		}
	}
}

// WithWrap provides an optional cause for: NewError.
func WithWrap(err error) Option {
	return func(o interface{}) {
		if v, ok := o.(*errorOptions); ok {
			v.withWrap = err
		}
	}
}

// strategyOptions is the set of available options for the Strategy
// constructors.
type strategyOptions struct {
	withLogger       hclog.Logger
	withHTTPClient   *http.Client
	withClockSkew    time.Duration
	withNow          func() time.Time
	withVerifyHook   func(strategy string, err error)
	withClientID     string
	withClientSecret string
	withAlgorithms   []jwt.Alg
}

func strategyDefaults() strategyOptions {
	return strategyOptions{
		withLogger:    hclog.NewNullLogger(),
		withClockSkew: DefaultClockSkew,
		withNow:       time.Now,
	}
}

func getStrategyOpts(opt ...Option) strategyOptions {
	opts := strategyDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: NewJWKSStrategy,
// NewIntrospectionStrategy, Authenticate.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *strategyOptions:
			v.withLogger = l
		case *middlewareOptions:
			v.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for:
// NewIntrospectionStrategy.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*strategyOptions); ok {
			v.withHTTPClient = c
		}
	}
}

// WithClockSkew provides an optional leeway for time based claims for:
// NewJWKSStrategy, NewIntrospectionStrategy.
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*strategyOptions); ok {
			v.withClockSkew = d
		}
	}
}

// WithNow provides an optional clock for: NewJWKSStrategy,
// NewIntrospectionStrategy.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*strategyOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithVerifyHook provides an optional callback invoked with the outcome of
// every Verify call for: NewJWKSStrategy, NewIntrospectionStrategy.
func WithVerifyHook(fn func(strategy string, err error)) Option {
	return func(o interface{}) {
		if v, ok := o.(*strategyOptions); ok {
			v.withVerifyHook = fn
		}
	}
}

// WithClientCredentials provides the client id and secret used to
// authenticate to the introspection endpoint for: NewIntrospectionStrategy.
func WithClientCredentials(id, secret string) Option {
	return func(o interface{}) {
		if v, ok := o.(*strategyOptions); ok {
			v.withClientID = id
			v.withClientSecret = secret
		}
	}
}

// WithSigningAlgorithms provides the optional set of accepted signing
// algorithms for: NewJWKSStrategy. Defaults to jwt.DefaultSigningAlgorithms.
func WithSigningAlgorithms(algs ...jwt.Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*strategyOptions); ok {
			v.withAlgorithms = algs
		}
	}
}

type middlewareOptions struct {
	withLogger hclog.Logger
	withRealm  string
}

func getMiddlewareOpts(opt ...Option) middlewareOptions {
	opts := middlewareOptions{
		withLogger: hclog.NewNullLogger(),
	}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRealm provides an optional realm for the WWW-Authenticate challenge
// for: Authenticate, RequireScope.
func WithRealm(realm string) Option {
	return func(o interface{}) {
		if v, ok := o.(*middlewareOptions); ok {
			v.withRealm = realm
		}
	}
}
