// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/capnotes/oidc"
)

var (
	// ErrRequestNotFound is returned when no request is stored for a state.
	// The state may be unknown, already consumed, or expired.
	ErrRequestNotFound = errors.New("request not found")

	// ErrInvalidParameter is returned for nil or empty arguments.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrStoreFull is returned by Save when the store holds its maximum
	// number of unexpired requests.
	ErrStoreFull = errors.New("request store is full")
)

// Defaults for NewMemoryRequestStore.
const (
	DefaultMaxRequests   = 10000
	DefaultSweepInterval = time.Minute
)

// RequestStore holds oidc.Requests keyed by their state.
//
// Read consumes the entry: a second Read of the same state returns
// ErrRequestNotFound. Implementations must be concurrently safe, since the
// store will be used within concurrent http.Handlers.
type RequestStore interface {
	// Save stores r until its expiration.
	Save(ctx context.Context, r *oidc.Request) error

	// Read returns and removes the request for state.
	Read(ctx context.Context, state string) (*oidc.Request, error)
}

// MemoryRequestStore is an in-process RequestStore holding at most a fixed
// number of requests. Expired entries are swept at most once per sweep
// interval, or when the store is full.
type MemoryRequestStore struct {
	mu            sync.Mutex
	requests      map[string]*oidc.Request
	maxRequests   int
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

var _ RequestStore = (*MemoryRequestStore)(nil)

// NewMemoryRequestStore creates an empty MemoryRequestStore.
//
// Supported options: WithMaxRequests, WithSweepInterval
func NewMemoryRequestStore(opt ...Option) *MemoryRequestStore {
	opts := getStoreOpts(opt...)
	return &MemoryRequestStore{
		requests:      map[string]*oidc.Request{},
		maxRequests:   opts.withMaxRequests,
		sweepInterval: opts.withSweepInterval,
		lastSweep:     time.Now(),
		now:           time.Now,
	}
}

// Save implements RequestStore. It returns ErrStoreFull rather than evicting
// pending logins.
func (s *MemoryRequestStore) Save(_ context.Context, r *oidc.Request) error {
	const op = "MemoryRequestStore.Save"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= s.sweepInterval || len(s.requests) >= s.maxRequests {
		s.sweep(now)
	}
	if _, ok := s.requests[r.State()]; !ok && len(s.requests) >= s.maxRequests {
		return fmt.Errorf("%s: %d pending requests: %w", op, len(s.requests), ErrStoreFull)
	}
	s.requests[r.State()] = r
	return nil
}

// sweep drops expired requests. The caller holds s.mu.
func (s *MemoryRequestStore) sweep(now time.Time) {
	for state, stored := range s.requests {
		if !stored.Expiration().After(now) {
			delete(s.requests, state)
		}
	}
	s.lastSweep = now
}

// Read implements RequestStore.
func (s *MemoryRequestStore) Read(_ context.Context, state string) (*oidc.Request, error) {
	const op = "MemoryRequestStore.Read"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrRequestNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[state]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
	}
	delete(s.requests, state)
	if !r.Expiration().After(s.now()) {
		return nil, fmt.Errorf("%s: request expired: %w", op, ErrRequestNotFound)
	}
	return r, nil
}

// Len returns the number of stored requests, expired ones included.
func (s *MemoryRequestStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
