// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// promoted claims are copied into Identity fields and left out of Extra.
var promoted = map[string]struct{}{
	"sub":    {},
	"email":  {},
	"name":   {},
	"org_id": {},
	"scope":  {},
}

// Identity is the authenticated principal of a request.
type Identity struct {
	// ID is the subject of the verified token and is never empty.
	ID             string
	Email          string
	Name           string
	OrganizationID string

	// Username is set from the linked user record, when there is one.
	Username string

	// Scopes are the granted scopes, deduplicated in claim order.
	Scopes []string

	// HasScopeClaim reports whether the token carried a scope claim naming at
	// least one scope. An identity without one satisfies no scope requirement.
	HasScopeClaim bool

	// Extra holds every claim that was not promoted to a field above.
	Extra map[string]interface{}
}

// NewIdentity builds an Identity from a verified claim set.
func NewIdentity(claims map[string]interface{}) (*Identity, error) {
	const op = "auth.NewIdentity"
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, NewError(KindAuthentication,
			WithOp(op),
			WithMsg("Token verification failure"),
			WithWrap(fmt.Errorf("missing subject claim")),
		)
	}
	id := &Identity{
		ID:    sub,
		Extra: make(map[string]interface{}, len(claims)),
	}
	id.Email, _ = claims["email"].(string)
	id.Name, _ = claims["name"].(string)
	id.OrganizationID, _ = claims["org_id"].(string)
	if raw, ok := claims["scope"]; ok {
		id.Scopes = ParseScopes(raw)
		id.HasScopeClaim = len(id.Scopes) > 0
	}
	for k, v := range claims {
		if _, ok := promoted[k]; ok {
			continue
		}
		id.Extra[k] = v
	}
	return id, nil
}

// ParseScopes normalizes a scope claim. A string is split on whitespace and
// a list keeps its string elements. Duplicates are dropped.
func ParseScopes(raw interface{}) []string {
	var in []string
	switch v := raw.(type) {
	case string:
		in = strings.Fields(v)
	case []string:
		in = v
	case []interface{}:
		for _, s := range v {
			if str, ok := s.(string); ok {
				in = append(in, str)
			}
		}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// HasScope reports whether the identity was granted scope.
func (i *Identity) HasScope(scope string) bool {
	if i == nil {
		return false
	}
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// String returns a short representation that is safe to log.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{ID:%q}", i.ID)
}

// MarshalJSON emits the public profile of the identity. Extra is omitted
// since it may carry provider specific claims.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}
	type profile struct {
		ID             string   `json:"id"`
		Email          string   `json:"email"`
		Name           string   `json:"name"`
		Username       string   `json:"username,omitempty"`
		OrganizationID string   `json:"organizationId"`
		Scopes         []string `json:"scopes,omitempty"`
	}
	return json.Marshal(&profile{
		ID:             i.ID,
		Email:          i.Email,
		Name:           i.Name,
		Username:       i.Username,
		OrganizationID: i.OrganizationID,
		Scopes:         i.Scopes,
	})
}
