// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyID    = "test-key"
	testIssuer   = "https://example.com/"
	testAudience = "notes-api"
)

var (
	priv  *rsa.PrivateKey
	priv2 *rsa.PrivateKey
)

func init() {
	// Generating RSA keys is slow, so the keys are shared by every test in
	// the package.
	var err error
	priv, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	priv2, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
}

// countingKeySet records how often Key is called.
type countingKeySet struct {
	keys  map[string]*SigningKey
	calls atomic.Int32
	err   error
}

func (c *countingKeySet) Key(_ context.Context, kid string) (*SigningKey, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	k, ok := c.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func testKeySet() *countingKeySet {
	return &countingKeySet{
		keys: map[string]*SigningKey{
			testKeyID: {KeyID: testKeyID, Algorithm: RS256, Key: priv.Public()},
		},
	}
}

func testClaims(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"sub":   "user_123",
		"iss":   testIssuer,
		"aud":   testAudience,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"scope": "notes:read notes:write",
	}
}

func testExpected() Expected {
	return Expected{
		Issuer:    testIssuer,
		Audiences: []string{testAudience},
	}
}

func TestValidator_Validate_Valid_JWT(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name   string
		claims func() map[string]interface{}
	}{
		{
			name:   "all registered claims",
			claims: func() map[string]interface{} { return testClaims(now) },
		},
		{
			name: "audience array containing expected audience",
			claims: func() map[string]interface{} {
				c := testClaims(now)
				c["aud"] = []string{"other", testAudience}
				return c
			},
		},
		{
			name: "expired within leeway",
			claims: func() map[string]interface{} {
				c := testClaims(now)
				c["exp"] = now.Add(-30 * time.Second).Unix()
				return c
			},
		},
		{
			name: "nbf within leeway",
			claims: func() map[string]interface{} {
				c := testClaims(now)
				c["nbf"] = now.Add(30 * time.Second).Unix()
				return c
			},
		},
		{
			name: "no nbf or iat",
			claims: func() map[string]interface{} {
				c := testClaims(now)
				delete(c, "nbf")
				delete(c, "iat")
				return c
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			v, err := NewValidator(testKeySet())
			require.NoError(err)

			token := TestSignJWT(t, priv, RS256, testKeyID, tt.claims())
			got, err := v.Validate(context.Background(), token, testExpected())
			require.NoError(err)
			assert.Equal("user_123", got.Subject)
			assert.Equal(testIssuer, got.Issuer)
			assert.Contains(got.Audience, testAudience)
			assert.Equal("notes:read notes:write", got.Raw["scope"])
			assert.False(got.Expiry.IsZero())
		})
	}
}

func TestValidator_Validate_Invalid_JWT(t *testing.T) {
	t.Parallel()
	now := time.Now()
	signed := func(claims map[string]interface{}) string {
		return TestSignJWT(t, priv, RS256, testKeyID, claims)
	}
	with := func(k string, v interface{}) map[string]interface{} {
		c := testClaims(now)
		if v == nil {
			delete(c, k)
			return c
		}
		c[k] = v
		return c
	}

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name:    "empty",
			token:   func() string { return "" },
			wantErr: ErrMalformedToken,
		},
		{
			name:    "two segments",
			token:   func() string { return "abc.def" },
			wantErr: ErrMalformedToken,
		},
		{
			name:    "four segments",
			token:   func() string { return signed(testClaims(now)) + ".extra" },
			wantErr: ErrMalformedToken,
		},
		{
			name: "empty signature segment",
			token: func() string {
				parts := strings.Split(signed(testClaims(now)), ".")
				return parts[0] + "." + parts[1] + "."
			},
			wantErr: ErrMalformedToken,
		},
		{
			name:    "segment not base64url",
			token:   func() string { return "a*b.c*d.e*f" },
			wantErr: ErrMalformedToken,
		},
		{
			name: "tampered signature",
			token: func() string {
				parts := strings.Split(signed(testClaims(now)), ".")
				sig, err := base64.RawURLEncoding.DecodeString(parts[2])
				require.NoError(t, err)
				sig[len(sig)/2] ^= 0xFF
				return parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(sig)
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "tampered payload",
			token: func() string {
				parts := strings.Split(signed(testClaims(now)), ".")
				other := strings.Split(signed(with("sub", "admin")), ".")
				return parts[0] + "." + other[1] + "." + parts[2]
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "signed by another key",
			token:   func() string { return TestSignJWT(t, priv2, RS256, testKeyID, testClaims(now)) },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "unknown kid",
			token:   func() string { return TestSignJWT(t, priv, RS256, "rotated", testClaims(now)) },
			wantErr: ErrKeyNotFound,
		},
		{
			name:    "expired",
			token:   func() string { return signed(with("exp", now.Add(-2*time.Hour).Unix())) },
			wantErr: ErrExpired,
		},
		{
			name:    "missing exp",
			token:   func() string { return signed(with("exp", nil)) },
			wantErr: ErrMissingExpiry,
		},
		{
			name:    "not yet valid",
			token:   func() string { return signed(with("nbf", now.Add(10*time.Minute).Unix())) },
			wantErr: ErrNotYetValid,
		},
		{
			name:    "issued in the future",
			token:   func() string { return signed(with("iat", now.Add(10*time.Minute).Unix())) },
			wantErr: ErrIssuedInFuture,
		},
		{
			name:    "wrong issuer",
			token:   func() string { return signed(with("iss", "https://evil.example.com/")) },
			wantErr: ErrInvalidIssuer,
		},
		{
			name:    "wrong audience",
			token:   func() string { return signed(with("aud", "someone-else")) },
			wantErr: ErrInvalidAudience,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require := require.New(t)
			v, err := NewValidator(testKeySet())
			require.NoError(err)

			got, err := v.Validate(context.Background(), tt.token(), testExpected())
			require.Error(err)
			require.ErrorIs(err, tt.wantErr)
			require.Nil(got)
		})
	}
}

func TestValidator_Validate_Algorithms(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	noneToken := func() string {
		enc := base64.RawURLEncoding.EncodeToString
		return enc([]byte(`{"alg":"none","kid":"test-key"}`)) + "." +
			enc([]byte(`{"sub":"user_123"}`)) + "." + enc([]byte("sig"))
	}

	tests := []struct {
		name     string
		token    func() string
		expected func() Expected
		wantErr  error
	}{
		{
			name: "HS256 signed with the public key bytes",
			token: func() string {
				return TestSignJWT(t, []byte(TestPublicKeyPEM(t, priv.Public())), Alg("HS256"), testKeyID, testClaims(now))
			},
			expected: testExpected,
			wantErr:  ErrUnsupportedAlg,
		},
		{
			name:     "alg none",
			token:    noneToken,
			expected: testExpected,
			wantErr:  ErrUnsupportedAlg,
		},
		{
			name:  "ES256 when only RS256 is allowed",
			token: func() string { return TestSignJWT(t, ecKey, ES256, testKeyID, testClaims(now)) },
			expected: func() Expected {
				e := testExpected()
				e.SigningAlgorithms = []Alg{RS256}
				return e
			},
			wantErr: ErrUnsupportedAlg,
		},
		{
			name:  "HS256 configured as allowed",
			token: noneToken,
			expected: func() Expected {
				e := testExpected()
				e.SigningAlgorithms = []Alg{"HS256"}
				return e
			},
			wantErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			ks := testKeySet()
			v, err := NewValidator(ks)
			require.NoError(err)

			_, err = v.Validate(context.Background(), tt.token(), tt.expected())
			require.ErrorIs(err, tt.wantErr)
			assert.Zero(ks.calls.Load(), "key set must not be consulted")
		})
	}
}

func TestValidator_Validate_KeyAlgorithmMismatch(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ks := testKeySet()
	ks.keys[testKeyID].Algorithm = PS256
	v, err := NewValidator(ks)
	require.NoError(err)

	token := TestSignJWT(t, priv, RS256, testKeyID, testClaims(time.Now()))
	expected := testExpected()
	expected.SigningAlgorithms = []Alg{RS256, PS256}
	_, err = v.Validate(context.Background(), token, expected)
	require.ErrorIs(err, ErrUnsupportedAlg)
}

func TestValidator_Validate_KeySetFetchFailure(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ks := testKeySet()
	ks.err = ErrKeySetFetch
	v, err := NewValidator(ks)
	require.NoError(err)

	_, err = v.Validate(context.Background(), TestSignJWT(t, priv, RS256, testKeyID, testClaims(time.Now())), testExpected())
	require.ErrorIs(err, ErrKeySetFetch)
}

func TestValidator_Validate_Leeway(t *testing.T) {
	t.Parallel()
	now := time.Now()
	claims := testClaims(now)
	claims["exp"] = now.Add(-30 * time.Second).Unix()
	token := TestSignJWT(t, priv, RS256, testKeyID, claims)

	tests := []struct {
		name    string
		leeway  time.Duration
		wantErr bool
	}{
		{name: "default leeway", leeway: 0},
		{name: "explicit leeway", leeway: 45 * time.Second},
		{name: "no leeway", leeway: -1, wantErr: true},
		{name: "small leeway", leeway: 10 * time.Second, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require := require.New(t)
			v, err := NewValidator(testKeySet())
			require.NoError(err)
			expected := testExpected()
			expected.ClockSkewLeeway = tt.leeway
			_, err = v.Validate(context.Background(), token, expected)
			if tt.wantErr {
				require.ErrorIs(err, ErrExpired)
				return
			}
			require.NoError(err)
		})
	}
}

func TestNewValidator(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	_, err := NewValidator(nil)
	require.ErrorIs(err, ErrNilParameter)

	v, err := NewValidator(testKeySet())
	require.NoError(err)
	_, err = v.Validate(context.Background(), "a.b.c", Expected{Audiences: []string{testAudience}})
	require.ErrorIs(err, ErrInvalidParameter)
	_, err = v.Validate(context.Background(), "a.b.c", Expected{Issuer: testIssuer})
	require.ErrorIs(err, ErrInvalidParameter)
}
