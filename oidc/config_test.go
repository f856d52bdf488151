// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/jwt"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	type args struct {
		issuer       string
		clientID     string
		clientSecret ClientSecret
		opt          []Option
	}
	tests := []struct {
		name       string
		args       args
		wantErr    bool
		wantErrs   int
		wantScopes []string
	}{
		{
			name: "valid",
			args: args{
				issuer:       "https://idp.example.com",
				clientID:     "client",
				clientSecret: "secret",
				opt: []Option{
					WithRedirectURL("https://app.example.com/auth/callback"),
					WithPostLogoutRedirectURL("http://localhost:3000"),
					WithScopes("openid", "email"),
					WithAudiences("client", "other"),
				},
			},
			wantScopes: []string{"openid", "email"},
		},
		{
			name: "no redirect is allowed",
			args: args{
				issuer:       "https://idp.example.com",
				clientID:     "client",
				clientSecret: "secret",
			},
			wantScopes: DefaultScopes,
		},
		{
			name:     "everything missing",
			args:     args{},
			wantErr:  true,
			wantErrs: 3,
		},
		{
			name: "bad urls",
			args: args{
				issuer:       "ftp://idp.example.com",
				clientID:     "client",
				clientSecret: "secret",
				opt:          []Option{WithRedirectURL("not a url"), WithLogoutURL("idp.example.com/logout")},
			},
			wantErr:  true,
			wantErrs: 3,
		},
		{
			name: "symmetric alg",
			args: args{
				issuer:       "https://idp.example.com",
				clientID:     "client",
				clientSecret: "secret",
				opt:          []Option{WithSigningAlgs(jwt.RS256, jwt.Alg("HS256"))},
			},
			wantErr:  true,
			wantErrs: 1,
		},
		{
			name: "bad ca",
			args: args{
				issuer:       "https://idp.example.com",
				clientID:     "client",
				clientSecret: "secret",
				opt:          []Option{WithProviderCA("not a pem")},
			},
			wantErr:  true,
			wantErrs: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c, err := NewConfig(tt.args.issuer, tt.args.clientID, tt.args.clientSecret, tt.args.opt...)
			if tt.wantErr {
				require.Error(err)
				var merr *multierror.Error
				require.ErrorAs(err, &merr)
				assert.Len(merr.Errors, tt.wantErrs)
				return
			}
			require.NoError(err)
			assert.Equal(tt.args.issuer, c.Issuer)
			assert.Equal(tt.wantScopes, c.Scopes)
			assert.Equal(jwt.DefaultSigningAlgorithms, c.SupportedSigningAlgs)
		})
	}
}

func TestConfig_Validate_Nil(t *testing.T) {
	t.Parallel()
	var c *Config
	assert.ErrorIs(t, c.Validate(), ErrNilParameter)
}

func TestConfig_scopes(t *testing.T) {
	t.Parallel()
	c := &Config{Scopes: []string{"profile", "openid", "email", "profile", ""}}
	assert.Equal(t, []string{"openid", "profile", "email"}, c.scopes())
}

func TestClientSecret_Redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := &Config{ClientID: "client", ClientSecret: "super-secret"}
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", c.ClientSecret))
	assert.NotContains(fmt.Sprintf("%v", c), "super-secret")
	b, err := json.Marshal(c)
	require.NoError(err)
	assert.NotContains(string(b), "super-secret")
}
