// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Diagnostics returned for a bad Authorization header.
const (
	MsgNoAuthorizationHeader = "No Authorization header included in request"
	MsgInvalidHeaderFormat   = "Invalid Authorization header structure"
	MsgUnsupportedScheme     = "Invalid authorization header (only Bearer tokens are supported)"
	MsgNoToken               = "No token included in request"
)

// ExtractBearerToken returns the token of a "Bearer <token>" Authorization
// header. A failure is a KindAuthentication error whose message names what
// was wrong with the header.
func ExtractBearerToken(r *http.Request) (string, error) {
	const op = "auth.ExtractBearerToken"
	h := r.Header.Get("Authorization")
	if strings.TrimSpace(h) == "" {
		return "", NewError(KindAuthentication, WithOp(op), WithMsg(MsgNoAuthorizationHeader))
	}
	parts := strings.Fields(h)
	if len(parts) == 1 && strings.EqualFold(parts[0], "Bearer") {
		return "", NewError(KindAuthentication, WithOp(op), WithMsg(MsgNoToken))
	}
	if len(parts) != 2 {
		return "", NewError(KindAuthentication, WithOp(op), WithMsg(MsgInvalidHeaderFormat))
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", NewError(KindAuthentication, WithOp(op), WithMsg(MsgUnsupportedScheme))
	}
	return parts[1], nil
}

// Authenticate returns middleware that verifies the request's bearer token
// with s. The verified Identity and the raw token are stored in the request
// context; any failure ends the request with a JSON error.
//
// Supported options: WithLogger, WithRealm
func Authenticate(s Strategy, opt ...Option) func(http.Handler) http.Handler {
	opts := getMiddlewareOpts(opt...)
	logger := opts.withLogger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractBearerToken(r)
			if err != nil {
				writeBearerError(w, opts.withRealm, err)
				return
			}
			id, err := s.Verify(r.Context(), token)
			if err != nil {
				if KindOf(err) == KindAuthentication {
					logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
					writeBearerError(w, opts.withRealm, err)
					return
				}
				logger.Error("unable to verify token", "path", r.URL.Path, "error", err)
				WriteError(w, StatusCode(err), err)
				return
			}
			ctx := WithIdentity(r.Context(), id)
			ctx = WithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeBearerError writes an RFC 6750 invalid_token challenge.
func writeBearerError(w http.ResponseWriter, realm string, err error) {
	e := AsError(err)
	challenge := fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, e.Msg)
	if realm != "" {
		challenge = fmt.Sprintf(`Bearer realm=%q, error="invalid_token", error_description=%q`, realm, e.Msg)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	WriteError(w, http.StatusUnauthorized, e)
}
