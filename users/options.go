// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package users

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt work factor for local passwords.
const DefaultBcryptCost = 10

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

type serviceOptions struct {
	withLogger     hclog.Logger
	withBcryptCost int
	withNow        func() time.Time
}

func serviceDefaults() serviceOptions {
	return serviceOptions{
		withLogger:     hclog.NewNullLogger(),
		withBcryptCost: DefaultBcryptCost,
		withNow:        time.Now,
	}
}

func getServiceOpts(opt ...Option) serviceOptions {
	opts := serviceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: NewService
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithBcryptCost overrides the bcrypt cost for: NewService
func WithBcryptCost(cost int) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok && cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			v.withBcryptCost = cost
		}
	}
}

// WithNow provides an optional clock for: NewService
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok && now != nil {
			v.withNow = now
		}
	}
}
