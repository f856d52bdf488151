// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/config"
	"github.com/hashicorp/capnotes/oidc"
	"github.com/hashicorp/capnotes/oidc/callback"
	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

// OAuthProvider is the provider name users from the secondary OAuth login
// are linked under.
const OAuthProvider = "mcp"

const maxUserInfoSize = 1 << 20

// ErrMissingProviderID is returned when the userinfo response names no
// subject.
var ErrMissingProviderID = errors.New("userinfo response has no id, sub or user_id")

// OAuthLogin is a plain OAuth 2.0 authorization code login whose profile is
// read from a userinfo endpoint.
type OAuthLogin struct {
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewOAuthLogin creates an OAuthLogin from c. A nil client uses a pooled
// client with the default timeout.
func NewOAuthLogin(c config.OAuth, client *http.Client) (*OAuthLogin, error) {
	const op = "server.NewOAuthLogin"
	switch {
	case c.AuthorizeURL == "", c.TokenURL == "":
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("authorize and token URLs are required")))
	case c.ClientID == "":
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("client id is required")))
	case c.CallbackURL == "":
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("callback URL is required")))
	case c.UserInfoURL == "":
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("userinfo URL is required")))
	}
	if client == nil {
		var err error
		if client, err = sdkhttp.NewClient(""); err != nil {
			return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
		}
	}
	return &OAuthLogin{
		config: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.CallbackURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthorizeURL,
				TokenURL:  c.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		userInfoURL: c.UserInfoURL,
		client:      client,
	}, nil
}

var _ callback.Exchanger = (*OAuthLogin)(nil)

// AuthURL returns the authorization URL for login request r.
func (l *OAuthLogin) AuthURL(r *oidc.Request) string {
	return l.config.AuthCodeURL(r.State())
}

// Exchange trades the code of login request r for a token and reads the
// user's profile with it. The identity's ID is the profile's id, sub or
// user_id, and the rest of the profile is kept in its Extra.
func (l *OAuthLogin) Exchange(ctx context.Context, r *oidc.Request, code string) (*oidc.Token, *auth.Identity, error) {
	const op = "OAuthLogin.Exchange"
	switch {
	case r == nil:
		return nil, nil, auth.NewError(auth.KindValidation, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("request is nil: %w", ErrInvalidParameter)))
	case code == "":
		return nil, nil, auth.NewError(auth.KindValidation, auth.WithOp(op), auth.WithCode("invalid_request"),
			auth.WithMsg("Authorization code is required"), auth.WithWrap(oidc.ErrMissingCode))
	case r.IsExpired():
		return nil, nil, auth.NewError(auth.KindValidation, auth.WithOp(op), auth.WithCode("invalid_state"),
			auth.WithMsg("Login request is expired"), auth.WithWrap(oidc.ErrExpiredRequest))
	}
	tk, err := l.config.Exchange(sdkhttp.ClientContext(ctx, l.client), code)
	if err != nil {
		if oidc.ClientRejected(err) {
			return nil, nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
				auth.WithMsg("Login is not configured correctly"),
				auth.WithWrap(fmt.Errorf("%w: %w", oidc.ErrClientRejected, err)))
		}
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil && rErr.Response.StatusCode < 500 {
			return nil, nil, auth.NewError(auth.KindAuthentication, auth.WithOp(op),
				auth.WithCode("invalid_grant"),
				auth.WithMsg("Invalid or expired authorization code"),
				auth.WithWrap(err))
		}
		return nil, nil, auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Token exchange failed"), auth.WithWrap(err))
	}
	t, err := oidc.NewToken(tk)
	if err != nil {
		return nil, nil, auth.NewError(auth.KindProvider, auth.WithOp(op), auth.WithWrap(err))
	}

	profile, err := l.userInfo(ctx, tk)
	if err != nil {
		return nil, nil, err
	}
	pid := providerID(profile)
	if pid == "" {
		return nil, nil, auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Unable to read user profile"), auth.WithWrap(ErrMissingProviderID))
	}
	profile["sub"] = pid
	id, err := auth.NewIdentity(profile)
	if err != nil {
		return nil, nil, err
	}
	return t, id, nil
}

func (l *OAuthLogin) userInfo(ctx context.Context, tk *oauth2.Token) (map[string]interface{}, error) {
	const op = "OAuthLogin.userInfo"
	fail := func(err error) error {
		return auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Unable to read user profile"), auth.WithWrap(err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.userInfoURL, nil)
	if err != nil {
		return nil, fail(err)
	}
	req.Header.Set("Accept", "application/json")
	tk.SetAuthHeader(req)
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fail(fmt.Errorf("userinfo returned %s", resp.Status))
	}
	profile := map[string]interface{}{}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoSize))
	dec.UseNumber()
	if err := dec.Decode(&profile); err != nil {
		return nil, fail(fmt.Errorf("unable to decode userinfo: %w", err))
	}
	return profile, nil
}

// providerID returns the first non empty of id, sub and user_id. Numeric
// ids are formatted without an exponent.
func providerID(profile map[string]interface{}) string {
	for _, k := range []string{"id", "sub", "user_id"} {
		switch v := profile[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
