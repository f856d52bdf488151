// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/pquerna/cachecontrol"
	"golang.org/x/sync/singleflight"

	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

// maxKeySetSize caps how much of a key set response is read.
const maxKeySetSize = 1 << 20

// RemoteKeySet caches the keys published at a JWKS URL.
//
// Keys are fetched on demand and never in the background. A kid that is
// unknown, or known but past the set's TTL, triggers a refresh; concurrent
// callers share a single in-flight fetch. A failed refresh leaves the
// previous keys in place; a stale key is served without another fetch until
// minRefreshInterval has passed since the last attempt.
type RemoteKeySet struct {
	jwksURL            string
	client             *http.Client
	logger             hclog.Logger
	ttl                time.Duration
	minRefreshInterval time.Duration
	fetchTimeout       time.Duration
	now                func() time.Time
	fetchHook          func(error)

	group singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*SigningKey
	fetchedAt   time.Time
	attemptedAt time.Time
	expiresAt   time.Time
	generation  uint64
}

var _ KeySet = (*RemoteKeySet)(nil)

// NewRemoteKeySet returns a KeySet for the JWKS published at jwksURL. No
// request is made until the first Key call.
//
// Supported options: WithHTTPClient, WithCACert, WithTTL,
// WithMinRefreshInterval, WithFetchTimeout, WithLogger, WithNow, WithFetchHook
func NewRemoteKeySet(jwksURL string, opt ...Option) (*RemoteKeySet, error) {
	const op = "jwt.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%s: jwks URL is invalid: %w", op, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%s: jwks URL scheme %q is not http or https: %w", op, u.Scheme, ErrInvalidParameter)
	}

	opts := getKeySetOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client, err = sdkhttp.NewClient(opts.withCACert, sdkhttp.WithTimeout(0))
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	return &RemoteKeySet{
		jwksURL:            jwksURL,
		client:             client,
		logger:             opts.withLogger,
		ttl:                opts.withTTL,
		minRefreshInterval: opts.withMinRefreshInterval,
		fetchTimeout:       opts.withFetchTimeout,
		now:                opts.withNow,
		fetchHook:          opts.withFetchHook,
		keys:               map[string]*SigningKey{},
	}, nil
}

// URL returns the JWKS URL the key set is fetched from.
func (ks *RemoteKeySet) URL() string { return ks.jwksURL }

// Key implements KeySet.
func (ks *RemoteKeySet) Key(ctx context.Context, kid string) (*SigningKey, error) {
	const op = "RemoteKeySet.Key"
	now := ks.now()

	ks.mu.RLock()
	key, found := ks.keys[kid]
	fresh := now.Before(ks.expiresAt)
	fetchedAt := ks.fetchedAt
	attemptedAt := ks.attemptedAt
	seen := ks.generation
	ks.mu.RUnlock()

	switch {
	case found && fresh:
		return key, nil

	case found:
		if !attemptedAt.IsZero() && now.Sub(attemptedAt) < ks.minRefreshInterval {
			return key, nil
		}
		if err := ks.refresh(ctx, seen); err != nil {
			ks.logger.Warn("serving stale signing key", "kid", kid, "error", err)
			return key, nil
		}

	default:
		if !fetchedAt.IsZero() && now.Sub(fetchedAt) < ks.minRefreshInterval {
			return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
		}
		if err := ks.refresh(ctx, seen); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	ks.mu.RLock()
	key, found = ks.keys[kid]
	ks.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
	}
	return key, nil
}

// refresh fetches the key set, joining a fetch that is already in flight.
// seen is the generation the caller observed; if a fetch has completed since,
// no new request is made. The fetch itself is detached from ctx so that one
// caller giving up does not fail the others; ctx only bounds how long this
// caller waits.
func (ks *RemoteKeySet) refresh(ctx context.Context, seen uint64) error {
	const op = "RemoteKeySet.refresh"
	ch := ks.group.DoChan(ks.jwksURL, func() (interface{}, error) {
		ks.mu.RLock()
		current := ks.generation
		ks.mu.RUnlock()
		if current != seen {
			return nil, nil
		}
		ks.mu.Lock()
		ks.attemptedAt = ks.now()
		ks.mu.Unlock()
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ks.fetchTimeout)
		defer cancel()
		return nil, ks.fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("%s: %w", op, res.Err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", op, ErrKeySetFetch, ctx.Err())
	}
}

func (ks *RemoteKeySet) fetch(ctx context.Context) (retErr error) {
	const op = "RemoteKeySet.fetch"
	if ks.fetchHook != nil {
		defer func() { ks.fetchHook(retErr) }()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %w: %w", op, ErrKeySetFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrKeySetFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d: %w", op, resp.StatusCode, ErrKeySetFetch)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return fmt.Errorf("%s: unable to read response: %w: %w", op, ErrKeySetFetch, err)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("%s: unable to decode key set: %w: %w", op, ErrKeySetFetch, err)
	}

	now := ks.now()
	expiresAt := now.Add(ks.ttlFor(req, resp, now))
	keys := make(map[string]*SigningKey, len(set.Keys))
	for _, k := range set.Keys {
		switch {
		case k.KeyID == "":
			continue
		case k.Use != "" && k.Use != "sig":
			continue
		case !k.Valid() || !k.IsPublic():
			continue
		}
		keys[k.KeyID] = &SigningKey{
			KeyID:     k.KeyID,
			Algorithm: Alg(k.Algorithm),
			Key:       k.Key,
			FetchedAt: now,
			ExpiresAt: expiresAt,
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%s: key set has no usable signing keys: %w", op, ErrKeySetFetch)
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.fetchedAt = now
	ks.expiresAt = expiresAt
	ks.generation++
	ks.mu.Unlock()

	ks.logger.Debug("refreshed key set", "url", ks.jwksURL, "keys", len(keys), "expires_at", expiresAt)
	return nil
}

// ttlFor derives the cache lifetime from the response caching headers,
// falling back to the configured TTL. It never returns less than the
// minimum refresh interval.
func (ks *RemoteKeySet) ttlFor(req *http.Request, resp *http.Response, now time.Time) time.Duration {
	reasons, expires, err := cachecontrol.CachableResponse(req, resp, cachecontrol.Options{})
	if err != nil || len(reasons) > 0 || expires.IsZero() {
		return ks.ttl
	}
	ttl := expires.Sub(now)
	switch {
	case ttl <= 0:
		return ks.ttl
	case ttl < ks.minRefreshInterval:
		return ks.minRefreshInterval
	}
	return ttl
}
