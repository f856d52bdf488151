// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capnotes/jwt"
)

// DefaultClockSkew is the leeway applied to time based claims.
const DefaultClockSkew = 60 * time.Second

// Strategy names, as selected by configuration.
const (
	StrategyJWKS          = "jwks"
	StrategyIntrospection = "introspection"
)

// msgVerificationFailure is the only message a client sees for a token that
// failed verification.
const msgVerificationFailure = "Token verification failure"

// Strategy verifies a bearer token and returns the identity it was issued
// to. Failures are *Error values: KindAuthentication for a token that must
// not be accepted and KindProvider when the verdict depended on an upstream
// that was unavailable.
type Strategy interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWKSStrategy verifies self-contained JWTs against a key set.
type JWKSStrategy struct {
	validator *jwt.Validator
	expected  jwt.Expected
	logger    hclog.Logger
	hook      func(string, error)
}

var _ Strategy = (*JWKSStrategy)(nil)

// NewJWKSStrategy returns a Strategy that validates tokens issued by issuer
// for any of audiences, with signatures checked against keySet. Invalid
// configuration is reported as a KindConfiguration error.
//
// Supported options: WithSigningAlgorithms, WithClockSkew, WithNow,
// WithLogger, WithVerifyHook
func NewJWKSStrategy(keySet jwt.KeySet, issuer string, audiences []string, opt ...Option) (*JWKSStrategy, error) {
	const op = "auth.NewJWKSStrategy"
	opts := getStrategyOpts(opt...)

	var cause error
	switch {
	case keySet == nil:
		cause = fmt.Errorf("key set is nil")
	case issuer == "":
		cause = fmt.Errorf("issuer is empty")
	case len(audiences) == 0:
		cause = fmt.Errorf("audience is empty")
	}
	if cause == nil && len(opts.withAlgorithms) > 0 {
		cause = jwt.SupportedSigningAlgorithm(opts.withAlgorithms...)
	}
	if cause != nil {
		return nil, NewError(KindConfiguration, WithOp(op), WithWrap(cause))
	}

	v, err := jwt.NewValidator(keySet)
	if err != nil {
		return nil, NewError(KindConfiguration, WithOp(op), WithWrap(err))
	}
	skew := opts.withClockSkew
	if skew == 0 {
		// a zero Expected.ClockSkewLeeway means the default, so ask for none
		// explicitly
		skew = -1
	}
	return &JWKSStrategy{
		validator: v,
		expected: jwt.Expected{
			Issuer:            issuer,
			Audiences:         audiences,
			SigningAlgorithms: opts.withAlgorithms,
			ClockSkewLeeway:   skew,
			Now:               opts.withNow,
		},
		logger: opts.withLogger,
		hook:   opts.withVerifyHook,
	}, nil
}

// Verify implements Strategy.
func (s *JWKSStrategy) Verify(ctx context.Context, token string) (id *Identity, retErr error) {
	const op = "JWKSStrategy.Verify"
	if s.hook != nil {
		defer func() { s.hook(StrategyJWKS, retErr) }()
	}

	claims, err := s.validator.Validate(ctx, token, s.expected)
	if err != nil {
		if errors.Is(err, jwt.ErrKeySetFetch) {
			s.logger.Error("unable to retrieve signing keys", "error", err)
			return nil, NewError(KindProvider,
				WithOp(op),
				WithMsg("Unable to retrieve signing keys"),
				WithWrap(err),
			)
		}
		s.logger.Debug("token rejected", "error", err)
		return nil, NewError(KindAuthentication,
			WithOp(op),
			WithMsg(msgVerificationFailure),
			WithWrap(err),
		)
	}
	return NewIdentity(claims.Raw)
}
