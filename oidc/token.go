// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is an oauth access_token.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token.
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token.
func (t AccessToken) String() string { return RedactedAccessToken }

// MarshalJSON will redact the token.
func (t AccessToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedAccessToken) }

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token.
func (t RefreshToken) String() string { return RedactedRefreshToken }

// MarshalJSON will redact the token.
func (t RefreshToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedRefreshToken) }

// IDToken is an oidc id_token.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token.
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IDToken) String() string { return RedactedIDToken }

// MarshalJSON will redact the token.
func (t IDToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedIDToken) }

// Token is the result of a successful code exchange. The secret values are
// redacted when formatted or marshaled; convert them to a string explicitly
// to read them.
type Token struct {
	accessToken  AccessToken
	refreshToken RefreshToken
	idToken      IDToken
	tokenType    string
	expiry       time.Time
	now          func() time.Time
}

type tokenOptions struct {
	withNow func() time.Time
}

func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenOptions{withNow: time.Now}
	ApplyOpts(&opts, opt...)
	return opts
}

// NewToken creates a Token from an oauth2 token response. The access token
// is required.
//
// Supported options: WithNow
func NewToken(t *oauth2.Token, opt ...Option) (*Token, error) {
	const op = "oidc.NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	opts := getTokenOpts(opt...)
	idToken, _ := t.Extra("id_token").(string)
	return &Token{
		accessToken:  AccessToken(t.AccessToken),
		refreshToken: RefreshToken(t.RefreshToken),
		idToken:      IDToken(idToken),
		tokenType:    t.Type(),
		expiry:       t.Expiry,
		now:          opts.withNow,
	}, nil
}

// AccessToken returns the access_token.
func (t *Token) AccessToken() AccessToken { return t.accessToken }

// RefreshToken returns the refresh_token, if one was issued.
func (t *Token) RefreshToken() RefreshToken { return t.refreshToken }

// IDToken returns the id_token, if one was issued.
func (t *Token) IDToken() IDToken { return t.idToken }

// TokenType returns the token type, which is "Bearer" when the provider did
// not say.
func (t *Token) TokenType() string { return t.tokenType }

// Expiry returns the access token's expiration; the zero value means the
// provider did not say.
func (t *Token) Expiry() time.Time { return t.expiry }

// ExpiresIn returns the seconds until the access token expires, rounded up.
// Zero means unknown or already expired.
func (t *Token) ExpiresIn() int64 {
	if t.expiry.IsZero() {
		return 0
	}
	d := t.expiry.Sub(t.now())
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
