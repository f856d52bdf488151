// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// DefaultLeeway is used when Expected.ClockSkewLeeway is zero.
const DefaultLeeway = 60 * time.Second

// Validator validates JSON Web Tokens (JWT) by providing signature
// verification and claims set validation.
type Validator struct {
	keySet KeySet
}

// NewValidator returns a Validator that uses the given KeySet to verify JWT
// signatures.
func NewValidator(keySet KeySet) (*Validator, error) {
	const op = "jwt.NewValidator"
	if keySet == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	return &Validator{keySet: keySet}, nil
}

// Expected defines the expected claims values to assert when validating a
// JWT.
type Expected struct {
	// Issuer must equal the "iss" claim. Required.
	Issuer string

	// Audiences must contain at least one value of the "aud" claim. Required.
	Audiences []string

	// SigningAlgorithms the token header may name. Defaults to
	// DefaultSigningAlgorithms. Symmetric algorithms and "none" are never
	// accepted.
	SigningAlgorithms []Alg

	// ClockSkewLeeway applies to the "exp", "nbf" and "iat" checks. Zero means
	// DefaultLeeway and a negative value means no leeway.
	ClockSkewLeeway time.Duration

	// Now provides the current time. Defaults to time.Now.
	Now func() time.Time
}

// Claims are the verified contents of a token's payload.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Expiry    time.Time
	NotBefore time.Time
	IssuedAt  time.Time

	// Raw holds every claim of the payload, including the registered ones.
	Raw map[string]interface{}
}

type header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
}

// Validate validates a token in the JWS compact serialization form. The
// header algorithm is checked before the key is resolved, the signature is
// verified before any claim is read, and the registered claims are then
// checked against expected. Every failure wraps one of the package errors.
func (v *Validator) Validate(ctx context.Context, token string, expected Expected) (*Claims, error) {
	const op = "Validator.Validate"

	algs := expected.SigningAlgorithms
	if len(algs) == 0 {
		algs = DefaultSigningAlgorithms
	}
	if err := SupportedSigningAlgorithm(algs...); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	if expected.Issuer == "" {
		return nil, fmt.Errorf("%s: expected issuer is empty: %w", op, ErrInvalidParameter)
	}
	if len(expected.Audiences) == 0 {
		return nil, fmt.Errorf("%s: expected audiences are empty: %w", op, ErrInvalidParameter)
	}

	hdr, err := parseHeader(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !containsAlg(algs, Alg(hdr.Algorithm)) {
		return nil, fmt.Errorf("%s: token alg %q: %w", op, hdr.Algorithm, ErrUnsupportedAlg)
	}

	jws, err := jose.ParseSigned(token, joseAlgorithms(algs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}

	key, err := v.keySet.Key(ctx, hdr.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if key.Algorithm != "" && key.Algorithm != Alg(hdr.Algorithm) {
		return nil, fmt.Errorf("%s: key %q is for %s, token is %s: %w", op, key.KeyID, key.Algorithm, hdr.Algorithm, ErrUnsupportedAlg)
	}

	payload, err := jws.Verify(key.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	var registered jwt.Claims
	if err := json.Unmarshal(payload, &registered); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidClaims, err)
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidClaims, err)
	}
	if registered.Expiry == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingExpiry)
	}

	leeway := expected.ClockSkewLeeway
	switch {
	case leeway == 0:
		leeway = DefaultLeeway
	case leeway < 0:
		leeway = 0
	}
	now := time.Now
	if expected.Now != nil {
		now = expected.Now
	}
	err = registered.ValidateWithLeeway(jwt.Expected{
		Issuer:      expected.Issuer,
		AnyAudience: jwt.Audience(expected.Audiences),
		Time:        now(),
	}, leeway)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, claimsError(err))
	}

	return &Claims{
		Subject:   registered.Subject,
		Issuer:    registered.Issuer,
		Audience:  []string(registered.Audience),
		Expiry:    registered.Expiry.Time(),
		NotBefore: numericTime(registered.NotBefore),
		IssuedAt:  numericTime(registered.IssuedAt),
		Raw:       raw,
	}, nil
}

// parseHeader checks the token has exactly three non-empty base64url
// segments and decodes the header.
func parseHeader(token string) (*header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token has %d segments: %w", len(parts), ErrMalformedToken)
	}
	var hdrJSON []byte
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("token segment %d is empty: %w", i, ErrMalformedToken)
		}
		b, err := base64.RawURLEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("token segment %d is not base64url: %w", i, ErrMalformedToken)
		}
		if i == 0 {
			hdrJSON = b
		}
	}
	var hdr header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("token header is not json: %w", ErrMalformedToken)
	}
	return &hdr, nil
}

func claimsError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(err, jwt.ErrInvalidAudience):
		return ErrInvalidAudience
	case errors.Is(err, jwt.ErrExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrIssuedInTheFuture):
		return ErrIssuedInFuture
	default:
		return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time()
}
