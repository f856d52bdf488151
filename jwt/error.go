// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrMalformedToken   = errors.New("malformed token")
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrKeyNotFound      = errors.New("signing key not found")
	ErrKeySetFetch      = errors.New("unable to fetch key set")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidClaims    = errors.New("invalid claims")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrMissingExpiry    = errors.New("missing exp claim")
	ErrExpired          = errors.New("token is expired")
	ErrNotYetValid      = errors.New("token is not yet valid")
	ErrIssuedInFuture   = errors.New("token issued in the future")
)
