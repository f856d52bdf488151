// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"

	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

// maxIntrospectionSize caps how much of an introspection response is read.
const maxIntrospectionSize = 1 << 20

// IntrospectionStrategy verifies tokens by asking the authorization server
// whether they are active (RFC 7662). Only the response fields needed to
// build an Identity are used.
type IntrospectionStrategy struct {
	endpoint     string
	clientID     string
	clientSecret string
	client       *http.Client
	validator    *gojwt.Validator
	logger       hclog.Logger
	hook         func(string, error)
}

var _ Strategy = (*IntrospectionStrategy)(nil)

// NewIntrospectionStrategy returns a Strategy that posts tokens to endpoint.
// The claims of an active token must name issuer and one of audiences, and
// carry an exp.
//
// Supported options: WithClientCredentials, WithHTTPClient, WithClockSkew,
// WithNow, WithLogger, WithVerifyHook
func NewIntrospectionStrategy(endpoint, issuer string, audiences []string, opt ...Option) (*IntrospectionStrategy, error) {
	const op = "auth.NewIntrospectionStrategy"
	opts := getStrategyOpts(opt...)

	var cause error
	switch {
	case endpoint == "":
		cause = fmt.Errorf("introspection URL is empty")
	case issuer == "":
		cause = fmt.Errorf("issuer is empty")
	case len(audiences) == 0:
		cause = fmt.Errorf("audience is empty")
	}
	if cause == nil {
		if u, err := url.Parse(endpoint); err != nil || (u.Scheme != "https" && u.Scheme != "http") {
			cause = fmt.Errorf("introspection URL %q is not an http(s) URL", endpoint)
		}
	}
	if cause != nil {
		return nil, NewError(KindConfiguration, WithOp(op), WithWrap(cause))
	}

	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = sdkhttp.NewClient(""); err != nil {
			return nil, NewError(KindConfiguration, WithOp(op), WithWrap(err))
		}
	}

	return &IntrospectionStrategy{
		endpoint:     endpoint,
		clientID:     opts.withClientID,
		clientSecret: opts.withClientSecret,
		client:       client,
		validator: gojwt.NewValidator(
			gojwt.WithIssuer(issuer),
			gojwt.WithAudience(audiences...),
			gojwt.WithLeeway(opts.withClockSkew),
			gojwt.WithExpirationRequired(),
			gojwt.WithIssuedAt(),
			gojwt.WithTimeFunc(opts.withNow),
		),
		logger: opts.withLogger,
		hook:   opts.withVerifyHook,
	}, nil
}

// Verify implements Strategy.
func (s *IntrospectionStrategy) Verify(ctx context.Context, token string) (id *Identity, retErr error) {
	const op = "IntrospectionStrategy.Verify"
	if s.hook != nil {
		defer func() { s.hook(StrategyIntrospection, retErr) }()
	}
	if token == "" {
		return nil, NewError(KindAuthentication, WithOp(op), WithMsg(msgVerificationFailure), WithWrap(fmt.Errorf("token is empty")))
	}

	claims, err := s.introspect(ctx, token)
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = NewError(KindProvider, WithOp(op), WithMsg("Unable to verify token"), WithWrap(err))
		}
		s.logger.Debug("introspection failed", "error", err)
		return nil, err
	}
	if err := s.validator.Validate(claims); err != nil {
		s.logger.Debug("token rejected", "error", err)
		return nil, NewError(KindAuthentication, WithOp(op), WithMsg(msgVerificationFailure), WithWrap(err))
	}
	return NewIdentity(claims)
}

func (s *IntrospectionStrategy) introspect(ctx context.Context, token string) (gojwt.MapClaims, error) {
	const op = "IntrospectionStrategy.introspect"
	form := url.Values{"token": {token}}
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if s.clientID != "" && s.clientSecret != "" {
		req.SetBasicAuth(s.clientID, s.clientSecret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// the server refused our client credentials
		return nil, NewError(KindConfiguration,
			WithOp(op),
			WithWrap(fmt.Errorf("introspection endpoint rejected client credentials: %s", resp.Status)),
		)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxIntrospectionSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: unable to decode response: %w", op, err)
	}
	if active, _ := body["active"].(bool); !active {
		return nil, NewError(KindAuthentication,
			WithOp(op),
			WithMsg(msgVerificationFailure),
			WithWrap(fmt.Errorf("token is not active")),
		)
	}
	delete(body, "active")
	return gojwt.MapClaims(body), nil
}
