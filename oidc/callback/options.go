// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import "time"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type storeOptions struct {
	withMaxRequests   int
	withSweepInterval time.Duration
}

func storeDefaults() storeOptions {
	return storeOptions{
		withMaxRequests:   DefaultMaxRequests,
		withSweepInterval: DefaultSweepInterval,
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithMaxRequests bounds the number of pending requests a
// MemoryRequestStore holds. Values below one are ignored.
func WithMaxRequests(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && n > 0 {
			o.withMaxRequests = n
		}
	}
}

// WithSweepInterval sets how often a MemoryRequestStore drops expired
// requests on Save. Values below zero are ignored.
func WithSweepInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && d >= 0 {
			o.withSweepInterval = d
		}
	}
}
