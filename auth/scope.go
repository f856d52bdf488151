// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// CheckScope returns a KindAuthorization error unless id was granted every
// scope in required. An identity without a scope claim is always refused,
// even when nothing is required.
func CheckScope(id *Identity, required ...string) error {
	const op = "auth.CheckScope"
	first := ""
	if len(required) > 0 {
		first = required[0]
	}
	if id == nil || !id.HasScopeClaim {
		return NewError(KindAuthorization, WithOp(op), WithMsg(missingScopeMsg(first)))
	}
	for _, s := range required {
		if !id.HasScope(s) {
			return NewError(KindAuthorization, WithOp(op), WithMsg(missingScopeMsg(s)))
		}
	}
	return nil
}

func missingScopeMsg(scope string) string {
	return fmt.Sprintf("Missing required scope: %s", scope)
}

// RequireScope returns middleware that admits a request only when the
// identity stored by Authenticate holds every scope in required.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if err := CheckScope(id, required...); err != nil {
				w.Header().Set("WWW-Authenticate",
					`Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
				WriteError(w, http.StatusForbidden, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
