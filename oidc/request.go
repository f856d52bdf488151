// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultRequestExpirySkew defines a default time skew when checking a
// Request's expiration.
const DefaultRequestExpirySkew = 1 * time.Second

// Request represents one authorization code flow for a user. It carries the
// data needed to uniquely identify that one-time flow across the redirect to
// the provider and the callback. A Request is stored when the flow starts and
// consumed exactly once by the callback.
type Request struct {
	state          string
	nonce          string
	redirectURL    string
	organizationID string
	connectionID   string
	expiration     time.Time
	now            func() time.Time
}

// reqOptions is the set of available options for Request functions
type reqOptions struct {
	withRedirectURL    string
	withOrganizationID string
	withConnectionID   string
	withExpirySkew     time.Duration
	withNow            func() time.Time
}

func reqDefaults() reqOptions {
	return reqOptions{
		withExpirySkew: DefaultRequestExpirySkew,
		withNow:        time.Now,
	}
}

func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewRequest creates a new Request that expires after expireIn. The state
// and nonce are freshly generated and never equal.
//
// Supported options: WithRedirectURL, WithOrganizationID, WithConnectionID,
// WithNow
func NewRequest(expireIn time.Duration, opt ...Option) (*Request, error) {
	const op = "oidc.NewRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getReqOpts(opt...)

	state, err := NewID(StatePrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
	}
	nonce, err := NewID(NoncePrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
	}
	return &Request{
		state:          state,
		nonce:          nonce,
		redirectURL:    opts.withRedirectURL,
		organizationID: opts.withOrganizationID,
		connectionID:   opts.withConnectionID,
		expiration:     opts.withNow().Add(expireIn),
		now:            opts.withNow,
	}, nil
}

// State is an unguessable value used to bind the provider's callback to this
// request.
func (r *Request) State() string { return r.state }

// Nonce binds the id_token issued by the provider to this request.
func (r *Request) Nonce() string { return r.nonce }

// RedirectURL is the callback URL for this request. When empty, the
// provider's configured redirect URL is used.
func (r *Request) RedirectURL() string { return r.redirectURL }

// OrganizationID is an optional organization hint for the provider.
func (r *Request) OrganizationID() string { return r.organizationID }

// ConnectionID is an optional connection hint for the provider.
func (r *Request) ConnectionID() string { return r.connectionID }

// Expiration is the time after which the request can no longer be used.
func (r *Request) Expiration() time.Time { return r.expiration }

// IsExpired returns true if the request has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultRequestExpirySkew.
func (r *Request) IsExpired(opt ...Option) bool {
	opts := getReqOpts(opt...)
	now := opts.withNow
	if r.now != nil {
		now = r.now
	}
	return r.expiration.Before(now().Add(opts.withExpirySkew))
}

// storedRequest is the form a Request takes when it is persisted.
type storedRequest struct {
	State          string    `json:"state"`
	Nonce          string    `json:"nonce"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	ConnectionID   string    `json:"connection_id,omitempty"`
	Expiration     time.Time `json:"expiration"`
}

// MarshalJSON allows a Request to be persisted by a request store.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(&storedRequest{
		State:          r.state,
		Nonce:          r.nonce,
		RedirectURL:    r.redirectURL,
		OrganizationID: r.organizationID,
		ConnectionID:   r.connectionID,
		Expiration:     r.expiration,
	})
}

// UnmarshalJSON restores a Request written by MarshalJSON.
func (r *Request) UnmarshalJSON(data []byte) error {
	const op = "Request.UnmarshalJSON"
	var s storedRequest
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.State == "" || s.Nonce == "" {
		return fmt.Errorf("%s: state and nonce are required: %w", op, ErrInvalidParameter)
	}
	*r = Request{
		state:          s.State,
		nonce:          s.Nonce,
		redirectURL:    s.RedirectURL,
		organizationID: s.OrganizationID,
		connectionID:   s.ConnectionID,
		expiration:     s.Expiration,
	}
	return nil
}
