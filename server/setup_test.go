// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/config"
	"github.com/hashicorp/capnotes/jwt"
	"github.com/hashicorp/capnotes/oidc"
	"github.com/hashicorp/capnotes/oidc/callback"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)

	p, err := NewProvider(&config.Config{}, hclog.NewNullLogger())
	require.NoError(err)
	assert.Nil(p)

	p, err = NewProvider(testConfig(tp), hclog.NewNullLogger())
	require.NoError(err)
	require.NotNil(p)
	t.Cleanup(p.Done)
	assert.Equal(tp.JWKSURL(), p.JWKSURL())

	c := testConfig(tp)
	c.IDP.ClientID = ""
	_, err = NewProvider(c, hclog.NewNullLogger())
	require.ErrorIs(err, auth.ErrConfiguration)
}

func TestNewStrategy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := hclog.NewNullLogger()

	t.Run("jwks from provider", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		c := testConfig(tp)
		p, err := NewProvider(c, logger)
		require.NoError(err)
		t.Cleanup(p.Done)

		s, err := NewStrategy(c, p, nil, logger)
		require.NoError(err)
		assert.IsType(&auth.JWKSStrategy{}, s)
		id, err := s.Verify(ctx, tp.IssueAccessToken("alice", "notes:read"))
		require.NoError(err)
		assert.Equal("alice", id.ID)
		assert.Equal([]string{"notes:read"}, id.Scopes)
	})

	t.Run("jwks url", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		tp := oidc.StartTestProvider(t)
		c := testConfig(tp)
		c.JWT.JWKSURL = tp.JWKSURL()

		s, err := NewStrategy(c, nil, nil, logger)
		require.NoError(err)
		_, err = s.Verify(ctx, tp.IssueAccessToken("alice", ""))
		require.NoError(err)
	})

	t.Run("public keys", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		priv := jwt.TestGenerateRSAKey(t)
		c := &config.Config{JWT: config.JWT{
			Strategy:   auth.StrategyJWKS,
			Issuer:     "https://issuer.example.com/",
			Audiences:  []string{"notes-api"},
			PublicKeys: []string{jwt.TestPublicKeyPEM(t, priv.Public())},
			Algorithms: []jwt.Alg{jwt.RS256},
		}}
		s, err := NewStrategy(c, nil, nil, logger)
		require.NoError(err)

		now := time.Now()
		raw := jwt.TestSignJWT(t, priv, jwt.RS256, "", map[string]interface{}{
			"sub": "bob",
			"iss": "https://issuer.example.com/",
			"aud": "notes-api",
			"iat": now.Unix(),
			"exp": now.Add(time.Minute).Unix(),
		})
		id, err := s.Verify(ctx, raw)
		require.NoError(err)
		assert.Equal("bob", id.ID)
	})

	t.Run("introspection", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		c := testConfig(tp)
		c.JWT.Strategy = auth.StrategyIntrospection
		c.JWT.IntrospectionURL = tp.IntrospectionURL()

		s, err := NewStrategy(c, nil, nil, logger)
		require.NoError(err)
		assert.IsType(&auth.IntrospectionStrategy{}, s)
		id, err := s.Verify(ctx, tp.IssueAccessToken("carol", "notes:write"))
		require.NoError(err)
		assert.Equal("carol", id.ID)
	})

	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{name: "unknown strategy", modify: func(c *config.Config) { c.JWT.Strategy = "opaque" }},
		{name: "no key source", modify: func(c *config.Config) {}},
		{name: "bad public key", modify: func(c *config.Config) { c.JWT.PublicKeys = []string{"not a pem"} }},
		{name: "introspection without url", modify: func(c *config.Config) { c.JWT.Strategy = auth.StrategyIntrospection }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &config.Config{JWT: config.JWT{
				Issuer:    "https://issuer.example.com/",
				Audiences: []string{"notes-api"},
			}}
			tt.modify(c)
			_, err := NewStrategy(c, nil, nil, logger)
			require.ErrorIs(t, err, auth.ErrConfiguration)
		})
	}
}

func TestNewRequestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s, closeFn, err := NewRequestStore(ctx, "")
		require.NoError(err)
		assert.IsType(&callback.MemoryRequestStore{}, s)
		assert.NoError(closeFn())
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		mr := miniredis.RunT(t)
		s, closeFn, err := NewRequestStore(ctx, "redis://"+mr.Addr())
		require.NoError(err)
		t.Cleanup(func() { _ = closeFn() })
		assert.IsType(&callback.RedisRequestStore{}, s)

		r, err := oidc.NewRequest(time.Minute)
		require.NoError(err)
		require.NoError(s.Save(ctx, r))
		got, err := s.Read(ctx, r.State())
		require.NoError(err)
		assert.Equal(r.State(), got.State())
		_, err = s.Read(ctx, r.State())
		assert.ErrorIs(err, callback.ErrRequestNotFound)
	})

	t.Run("bad url", func(t *testing.T) {
		t.Parallel()
		_, _, err := NewRequestStore(ctx, "mysql://localhost")
		require.ErrorIs(t, err, auth.ErrConfiguration)
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, _, err := NewRequestStore(ctx, "redis://"+addr)
		require.Error(t, err)
	})
}
