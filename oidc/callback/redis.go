// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hashicorp/capnotes/oidc"
)

// DefaultRedisKeyPrefix namespaces the keys written by a RedisRequestStore.
const DefaultRedisKeyPrefix = "capnotes:oidc:request:"

// RedisRequestStore is a RequestStore shared by every instance of the API.
// Entries expire in redis with their request, and GETDEL makes the read
// and the removal one atomic step.
type RedisRequestStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ RequestStore = (*RedisRequestStore)(nil)

// NewRedisRequestStore creates a RedisRequestStore with a pre-configured
// client. An empty keyPrefix uses DefaultRedisKeyPrefix.
func NewRedisRequestStore(client redis.UniversalClient, keyPrefix string) (*RedisRequestStore, error) {
	const op = "callback.NewRedisRequestStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrInvalidParameter)
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisRequestStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisRequestStore) key(state string) string { return s.keyPrefix + state }

// Save implements RequestStore.
func (s *RedisRequestStore) Save(ctx context.Context, r *oidc.Request) error {
	const op = "RedisRequestStore.Save"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrInvalidParameter)
	}
	ttl := time.Until(r.Expiration())
	if ttl <= 0 {
		return fmt.Errorf("%s: request is expired: %w", op, ErrInvalidParameter)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}
	if err := s.client.Set(ctx, s.key(r.State()), data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Read implements RequestStore.
func (s *RedisRequestStore) Read(ctx context.Context, state string) (*oidc.Request, error) {
	const op = "RedisRequestStore.Read"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrRequestNotFound)
	}
	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
		}
		return nil, fmt.Errorf("%s: failed to get request: %w", op, err)
	}
	var r oidc.Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: failed to unmarshal request: %w", op, err)
	}
	if r.State() != state {
		return nil, fmt.Errorf("%s: stored state does not match: %w", op, ErrRequestNotFound)
	}
	return &r, nil
}
