// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

const (
	// DefaultKeySetTTL is used when the key set response carries no usable
	// caching headers.
	DefaultKeySetTTL = 10 * time.Minute

	// DefaultMinRefreshInterval is the minimum age of the key set before an
	// unknown kid may trigger another fetch.
	DefaultMinRefreshInterval = 15 * time.Second

	// DefaultFetchTimeout bounds a single key set fetch.
	DefaultFetchTimeout = 5 * time.Second
)

type keySetOptions struct {
	withHTTPClient         *http.Client
	withCACert             string
	withTTL                time.Duration
	withMinRefreshInterval time.Duration
	withFetchTimeout       time.Duration
	withLogger             hclog.Logger
	withNow                func() time.Time
	withFetchHook          func(error)
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withTTL:                DefaultKeySetTTL,
		withMinRefreshInterval: DefaultMinRefreshInterval,
		withFetchTimeout:       DefaultFetchTimeout,
		withLogger:             hclog.NewNullLogger(),
		withNow:                time.Now,
	}
}

func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides the client used to fetch the key set. It takes
// precedence over WithCACert.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithCACert provides an optional PEM encoded CA used to verify the key set
// endpoint's certificate.
func WithCACert(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withCACert = pem
		}
	}
}

// WithTTL overrides DefaultKeySetTTL.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok && d > 0 {
			o.withTTL = d
		}
	}
}

// WithMinRefreshInterval overrides DefaultMinRefreshInterval. Zero allows an
// unknown kid to trigger a fetch at any time.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok && d >= 0 {
			o.withMinRefreshInterval = d
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok && d > 0 {
			o.withFetchTimeout = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional clock.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithFetchHook registers a func called with the outcome of every key set
// fetch. A nil error means the fetch succeeded.
func WithFetchHook(fn func(error)) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withFetchHook = fn
		}
	}
}
