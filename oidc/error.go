// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "errors"

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrInvalidIssuer             = errors.New("invalid issuer")
	ErrIDGeneratorFailed         = errors.New("id generation failed")
	ErrDiscoveryFailed           = errors.New("provider discovery failed")
	ErrMissingRedirectURL        = errors.New("redirect URL is missing")
	ErrExpiredRequest            = errors.New("request is expired")
	ErrMissingCode               = errors.New("authorization code is missing")
	ErrInvalidGrant              = errors.New("invalid grant")
	ErrExchangeFailed            = errors.New("token exchange failed")
	ErrClientRejected            = errors.New("client rejected by token endpoint")
	ErrMissingAccessToken        = errors.New("access_token is missing")
	ErrIDTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidNonce              = errors.New("invalid nonce")
	ErrUserInfoFailed            = errors.New("user info failed")
	ErrMissingEndSessionEndpoint = errors.New("end session endpoint is missing")
)
