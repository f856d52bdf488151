// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/oidc"
)

func testRedisStore(t *testing.T) (*RedisRequestStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewRedisRequestStore(client, "")
	require.NoError(t, err)
	return s, mr
}

func TestRequestStore(t *testing.T) {
	t.Parallel()
	redisStore, _ := testRedisStore(t)
	stores := map[string]RequestStore{
		"memory": NewMemoryRequestStore(),
		"redis":  redisStore,
	}
	for name, s := range stores {
		s := s
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			t.Run("consumed once", func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				r, err := oidc.NewRequest(time.Minute, oidc.WithOrganizationID("org_1"))
				require.NoError(err)
				require.NoError(s.Save(ctx, r))

				got, err := s.Read(ctx, r.State())
				require.NoError(err)
				assert.Equal(r.State(), got.State())
				assert.Equal(r.Nonce(), got.Nonce())
				assert.Equal("org_1", got.OrganizationID())
				assert.True(r.Expiration().Equal(got.Expiration()))

				_, err = s.Read(ctx, r.State())
				assert.ErrorIs(err, ErrRequestNotFound)
			})
			t.Run("unknown state", func(t *testing.T) {
				_, err := s.Read(ctx, "st_unknown")
				assert.ErrorIs(t, err, ErrRequestNotFound)
			})
			t.Run("empty state", func(t *testing.T) {
				_, err := s.Read(ctx, "")
				assert.ErrorIs(t, err, ErrRequestNotFound)
			})
			t.Run("nil request", func(t *testing.T) {
				assert.ErrorIs(t, s.Save(ctx, nil), ErrInvalidParameter)
			})
			t.Run("concurrent reads", func(t *testing.T) {
				require := require.New(t)
				r, err := oidc.NewRequest(time.Minute)
				require.NoError(err)
				require.NoError(s.Save(ctx, r))

				var found atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.Read(ctx, r.State()); err == nil {
							found.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), found.Load())
			})
		})
	}
}

func TestMemoryRequestStore_Expiration(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryRequestStore()
	s.now = func() time.Time { return now }

	expiring, err := oidc.NewRequest(time.Minute)
	require.NoError(err)
	require.NoError(s.Save(ctx, expiring))

	now = now.Add(2 * time.Minute)
	_, err = s.Read(ctx, expiring.State())
	assert.ErrorIs(err, ErrRequestNotFound)
	assert.Equal(0, s.Len())

	// expired entries are swept by a Save after the sweep interval
	stale, err := oidc.NewRequest(time.Minute)
	require.NoError(err)
	s.now = func() time.Time { return time.Now() }
	require.NoError(s.Save(ctx, stale))
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	fresh, err := oidc.NewRequest(2 * time.Hour)
	require.NoError(err)
	require.NoError(s.Save(ctx, fresh))
	assert.Equal(1, s.Len())
}

func TestMemoryRequestStore_Capacity(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryRequestStore(WithMaxRequests(2), WithSweepInterval(time.Hour))
	s.now = func() time.Time { return now }

	first, err := oidc.NewRequest(time.Minute)
	require.NoError(err)
	require.NoError(s.Save(ctx, first))
	second, err := oidc.NewRequest(10 * time.Minute)
	require.NoError(err)
	require.NoError(s.Save(ctx, second))

	third, err := oidc.NewRequest(time.Minute)
	require.NoError(err)
	assert.ErrorIs(s.Save(ctx, third), ErrStoreFull)
	assert.Equal(2, s.Len())

	// pending logins are never evicted to make room
	got, err := s.Read(ctx, second.State())
	require.NoError(err)
	assert.Equal(second.State(), got.State())
	require.NoError(s.Save(ctx, third))

	// a full store drops expired entries before refusing
	now = now.Add(2 * time.Minute)
	fourth, err := oidc.NewRequest(time.Hour)
	require.NoError(err)
	require.NoError(s.Save(ctx, fourth))
	assert.Equal(1, s.Len())
}

func TestMemoryRequestStore_SweepInterval(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryRequestStore(WithSweepInterval(time.Minute))
	s.now = func() time.Time { return now }

	expiring, err := oidc.NewRequest(time.Second)
	require.NoError(err)
	require.NoError(s.Save(ctx, expiring))

	now = now.Add(2 * time.Second)
	next, err := oidc.NewRequest(time.Hour)
	require.NoError(err)
	require.NoError(s.Save(ctx, next))
	assert.Equal(2, s.Len(), "no sweep before the interval")

	now = now.Add(time.Minute)
	last, err := oidc.NewRequest(time.Hour)
	require.NoError(err)
	require.NoError(s.Save(ctx, last))
	assert.Equal(2, s.Len())
}

func TestRedisRequestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil client", func(t *testing.T) {
		_, err := NewRedisRequestStore(nil, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("expires with request", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mr := testRedisStore(t)
		r, err := oidc.NewRequest(time.Minute)
		require.NoError(err)
		require.NoError(s.Save(ctx, r))

		key := DefaultRedisKeyPrefix + r.State()
		assert.True(mr.Exists(key))
		assert.InDelta(time.Minute.Seconds(), mr.TTL(key).Seconds(), 2)

		mr.FastForward(2 * time.Minute)
		_, err = s.Read(ctx, r.State())
		assert.ErrorIs(err, ErrRequestNotFound)
	})
	t.Run("corrupt entry", func(t *testing.T) {
		s, mr := testRedisStore(t)
		require.NoError(t, mr.Set(DefaultRedisKeyPrefix+"st_bad", "not json"))
		_, err := s.Read(ctx, "st_bad")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRequestNotFound)
	})
	t.Run("unavailable", func(t *testing.T) {
		s, mr := testRedisStore(t)
		mr.Close()
		r, err := oidc.NewRequest(time.Minute)
		require.NoError(t, err)
		assert.Error(t, s.Save(ctx, r))
	})
}
