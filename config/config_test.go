// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/jwt"
)

func testViper(t *testing.T, values map[string]interface{}) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := Load(testViper(t, map[string]interface{}{
		"jwt_domain":   "tenant.example.com",
		"jwt_audience": "notes-api",
	}))
	require.NoError(err)
	assert.Equal(3000, c.Port)
	assert.Equal("http://localhost:5173", c.FrontendURL)
	assert.Equal("text", c.LogFormat)
	assert.Equal("capnotes.db", c.DatabasePath)
	assert.Equal(10*time.Minute, c.StateTTL)
	assert.Equal("http://localhost:3000", c.IDP.PostLogoutRedirectURI)
	assert.Equal([]string{"openid", "profile", "email", "offline_access"}, c.IDP.Scopes)
	assert.False(c.IDP.Enabled())
	assert.False(c.OAuth.Enabled())

	assert.Equal("jwks", c.JWT.Strategy)
	assert.Equal("https://tenant.example.com/", c.JWT.Issuer)
	assert.Equal("https://tenant.example.com/.well-known/jwks.json", c.JWT.JWKSURL)
	assert.Equal([]string{"notes-api"}, c.JWT.Audiences)
	assert.Equal([]jwt.Alg{jwt.RS256}, c.JWT.Algorithms)
	assert.Equal(10*time.Minute, c.JWT.CacheTTL)
	assert.Equal(15*time.Second, c.JWT.MinRefreshInterval)
	assert.Equal(5*time.Second, c.JWT.FetchTimeout)
	assert.Equal(60*time.Second, c.JWT.ClockSkew)
	assert.Equal(5.0, c.RateLimit.RPS)
	assert.Equal(10, c.RateLimit.Burst)
	assert.Empty(c.TrustedProxies)
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := Load(testViper(t, map[string]interface{}{
		"jwt_domain":      "tenant.example.com",
		"jwt_audience":    "notes-api",
		"trusted_proxies": "10.0.0.0/8, 192.168.1.1 ::1",
	}))
	require.NoError(err)
	assert.Equal([]string{"10.0.0.0/8", "192.168.1.1", "::1"}, c.TrustedProxies)
}

func TestLoad_Resolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		values     map[string]interface{}
		wantIssuer string
		wantJWKS   string
	}{
		{
			name:       "explicit wins",
			values:     map[string]interface{}{"jwt_domain": "d.example.com", "jwt_issuer": "https://issuer.example.com/", "jwt_jwks_url": "https://keys.example.com/jwks"},
			wantIssuer: "https://issuer.example.com/",
			wantJWKS:   "https://keys.example.com/jwks",
		},
		{
			name:       "domain with scheme",
			values:     map[string]interface{}{"jwt_domain": "https://d.example.com/"},
			wantIssuer: "https://d.example.com/",
			wantJWKS:   "https://d.example.com/.well-known/jwks.json",
		},
		{
			name: "identity provider",
			values: map[string]interface{}{
				"idp_base_url": "https://idp.example.com", "idp_client_id": "id", "idp_client_secret": "secret",
			},
			wantIssuer: "https://idp.example.com",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.values["jwt_audience"] = "notes-api"
			c, err := Load(testViper(t, tt.values))
			require.NoError(t, err)
			assert.Equal(t, tt.wantIssuer, c.JWT.Issuer)
			assert.Equal(t, tt.wantJWKS, c.JWT.JWKSURL)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		values    map[string]interface{}
		wantCount int
	}{
		{
			name:      "nothing configured",
			values:    map[string]interface{}{},
			wantCount: 3,
		},
		{
			name: "every problem at once",
			values: map[string]interface{}{
				"port":                     0,
				"log_format":               "xml",
				"idp_base_url":             "idp.example.com",
				"jwt_algorithms":           "RS256,HS256",
				"jwt_audience":             "notes-api",
				"jwt_jwks_url":             "https://keys.example.com",
				"jwt_issuer":               "https://issuer.example.com/",
				"oauth_client_id":          "mcp",
				"rate_limit_burst":         0,
				"jwt_fetch_timeout":        "0s",
				"frontend_url":             "localhost:5173",
				"idp_logout_url":           "",
				"idp_client_id":            "",
				"idp_client_secret":        "",
				"jwt_min_refresh_interval": "-1s",
			},
			// port, log format, frontend url, idp url, idp id, idp secret,
			// algorithms, fetch timeout, min refresh, 4 oauth urls, burst
			wantCount: 14,
		},
		{
			name: "introspection",
			values: map[string]interface{}{
				"auth_strategy": "introspection",
			},
			// issuer, audience, url, client credentials
			wantCount: 4,
		},
		{
			name: "unknown strategy",
			values: map[string]interface{}{
				"auth_strategy": "saml",
			},
			wantCount: 1,
		},
		{
			name: "bad trusted proxy",
			values: map[string]interface{}{
				"jwt_domain":      "tenant.example.com",
				"jwt_audience":    "notes-api",
				"trusted_proxies": "10.0.0.0/8,proxy.internal",
			},
			wantCount: 1,
		},
		{
			name: "bad public key",
			values: map[string]interface{}{
				"jwt_audience":    "notes-api",
				"jwt_issuer":      "https://issuer.example.com/",
				"jwt_public_keys": "not a pem",
			},
			wantCount: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			_, err := Load(testViper(t, tt.values))
			require.Error(err)
			assert.ErrorIs(err, ErrInvalidConfig)
			var me *multierror.Error
			require.ErrorAs(err, &me)
			assert.Len(me.Errors, tt.wantCount, me.Error())
		})
	}
}

func TestLoad_PublicKeys(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	k1 := jwt.TestPublicKeyPEM(t, jwt.TestGenerateRSAKey(t).Public())
	k2 := jwt.TestPublicKeyPEM(t, jwt.TestGenerateRSAKey(t).Public())
	c, err := Load(testViper(t, map[string]interface{}{
		"jwt_audience":    "notes-api",
		"jwt_issuer":      "https://issuer.example.com/",
		"jwt_public_keys": k1 + "\n" + k2,
	}))
	require.NoError(err)
	assert.Len(c.JWT.PublicKeys, 2)
	assert.Empty(c.JWT.JWKSURL)
	_, err = jwt.NewStaticKeySet(c.JWT.PublicKeys)
	assert.NoError(err)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	path := filepath.Join(t.TempDir(), "capnotes.yaml")
	require.NoError(os.WriteFile(path, []byte("port: 8080\njwt_domain: file.example.com\njwt_audience: notes-api\n"), 0o600))

	c, err := Load(testViper(t, map[string]interface{}{"config": path}))
	require.NoError(err)
	assert.Equal(8080, c.Port)
	assert.Equal("https://file.example.com/", c.JWT.Issuer)

	_, err = Load(testViper(t, map[string]interface{}{"config": filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Error(err)
}
