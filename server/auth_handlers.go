// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/oidc"
	"github.com/hashicorp/capnotes/oidc/callback"
	"github.com/hashicorp/capnotes/users"
)

// OIDCProvider is the provider name users from the OIDC login are linked
// under.
const OIDCProvider = "oidc"

// Messages returned by the auth routes.
const (
	MsgLoginRedirect   = "Redirect user to authorizationUrl to complete login"
	MsgLogoutRedirect  = "Redirect user to logoutUrl to complete logout"
	MsgAuthFailed      = "Authentication failed"
	MsgRefreshRequired = "Refresh token is required"
	MsgRefreshNotImpl  = "Token refresh not implemented. Please re-authenticate."
	MsgTooManyLogins   = "Too many pending logins, try again later"
)

const maxBodySize = 1 << 20

type loginResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
	Message          string `json:"message"`
}

type callbackUser struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	OrganizationID string `json:"organizationId"`
}

type tokenResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	IDToken      string        `json:"idToken,omitempty"`
	ExpiresIn    int64         `json:"expiresIn,omitempty"`
	TokenType    string        `json:"tokenType"`
	User         *callbackUser `json:"user"`
}

// callbackErrorResponse is the error body of the callback routes.
type callbackErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription"`
}

type profileResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Username       string `json:"username,omitempty"`
	OrganizationID string `json:"organizationId"`
}

type logoutResponse struct {
	LogoutURL string `json:"logoutUrl"`
	Message   string `json:"message"`
}

func notConfigured(op, what string) error {
	return auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithMsg(what+" is not configured"))
}

// handleLogin starts an authorization code flow and returns where to send
// the user.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleLogin"
	if s.provider == nil {
		s.writeError(w, r, notConfigured(op, "OIDC login"))
		return
	}
	q := r.URL.Query()
	req, err := oidc.NewRequest(s.stateTTL,
		oidc.WithOrganizationID(q.Get("organization_id")),
		oidc.WithConnectionID(q.Get("connection_id")),
	)
	if err != nil {
		s.writeError(w, r, auth.NewError(auth.KindUnknown, auth.WithOp(op), auth.WithWrap(err)))
		return
	}
	authURL, err := s.provider.AuthURL(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.startLogin(w, r, req, authURL)
}

// startLogin saves req so its callback can be matched, then answers with
// authURL.
func (s *Server) startLogin(w http.ResponseWriter, r *http.Request, req *oidc.Request, authURL string) {
	const op = "server.startLogin"
	if err := s.requests.Save(r.Context(), req); err != nil {
		if errors.Is(err, callback.ErrStoreFull) {
			s.logger.Warn("login rejected", "op", op, "error", err)
			w.Header().Set("Retry-After", strconv.Itoa(int(s.stateTTL.Seconds())))
			auth.WriteJSON(w, http.StatusServiceUnavailable, &auth.ErrorResponse{
				Error:   "temporarily_unavailable",
				Message: MsgTooManyLogins,
			})
			return
		}
		s.writeError(w, r, auth.NewError(auth.KindUnknown, auth.WithOp(op),
			auth.WithMsg("Unable to start login"), auth.WithWrap(err)))
		return
	}
	auth.WriteJSON(w, http.StatusOK, &loginResponse{
		AuthorizationURL: authURL,
		State:            req.State(),
		Message:          MsgLoginRedirect,
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.callback == nil {
		s.callbackError(r.FormValue("state"), nil, notConfigured("server.handleCallback", "OIDC login"), w, r)
		return
	}
	s.callback(w, r)
}

// callbackSuccess links the authenticated subject to a user account under
// provider and answers with the tokens.
func (s *Server) callbackSuccess(provider string) callback.SuccessResponseFunc {
	return func(_ string, t *oidc.Token, id *auth.Identity, w http.ResponseWriter, r *http.Request) {
		const op = "server.callbackSuccess"
		u, err := s.users.FindOrCreateFromOAuth(r.Context(), provider, id.ID, linkProfile(id))
		if err != nil {
			s.callbackError("", nil, auth.NewError(auth.KindUnknown, auth.WithOp(op),
				auth.WithMsg("Failed to complete authentication"), auth.WithWrap(err)), w, r)
			return
		}
		s.logger.Info("user logged in", "provider", provider, "user_id", u.ID)
		auth.WriteJSON(w, http.StatusOK, &tokenResponse{
			AccessToken:  string(t.AccessToken()),
			RefreshToken: string(t.RefreshToken()),
			IDToken:      string(t.IDToken()),
			ExpiresIn:    t.ExpiresIn(),
			TokenType:    "Bearer",
			User: &callbackUser{
				ID:             id.ID,
				Email:          id.Email,
				Name:           id.Name,
				OrganizationID: id.OrganizationID,
			},
		})
	}
}

// linkProfile returns the claims used to name a newly linked account.
func linkProfile(id *auth.Identity) map[string]interface{} {
	profile := make(map[string]interface{}, len(id.Extra)+2)
	for k, v := range id.Extra {
		profile[k] = v
	}
	if id.Email != "" {
		profile["email"] = id.Email
	}
	if id.Name != "" {
		profile["name"] = id.Name
	}
	return profile
}

// callbackError answers a failed callback. Error responses from the provider
// and rejected codes are the client's problem; anything else is not.
func (s *Server) callbackError(state string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, r *http.Request) {
	if respErr != nil {
		desc := respErr.Description
		if desc == "" {
			desc = MsgAuthFailed
		}
		s.logger.Debug("provider returned an error", "state", state, "error", respErr.Error, "description", respErr.Description)
		auth.WriteJSON(w, http.StatusBadRequest, &callbackErrorResponse{Error: respErr.Error, ErrorDescription: desc})
		return
	}
	ae := auth.AsError(e)
	status := auth.StatusCode(ae)
	if ae.Kind == auth.KindAuthentication {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("callback failed", "path", r.URL.Path, "error", ae)
	} else {
		s.logger.Debug("callback rejected", "path", r.URL.Path, "error", ae)
	}
	desc := ae.Msg
	if desc == "" {
		desc = MsgAuthFailed
	}
	auth.WriteJSON(w, status, &callbackErrorResponse{Error: ae.Code, ErrorDescription: desc})
}

// handleRefresh validates the request but refreshing is not offered; clients
// log in again.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("unable to decode refresh request", "error", err)
	}
	if body.RefreshToken == "" {
		auth.WriteJSON(w, http.StatusBadRequest, &auth.ErrorResponse{Error: "invalid_request", Message: MsgRefreshRequired})
		return
	}
	auth.WriteJSON(w, http.StatusNotImplemented, &auth.ErrorResponse{Error: "not_implemented", Message: MsgRefreshNotImpl})
}

// handleProfile returns the caller's identity along with the username of the
// account it is linked to.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		s.writeError(w, r, auth.NewError(auth.KindAuthentication, auth.WithMsg("No user found in token")))
		return
	}
	resp := &profileResponse{
		ID:             id.ID,
		Email:          id.Email,
		Name:           id.Name,
		Username:       id.Username,
		OrganizationID: id.OrganizationID,
	}
	if resp.Username == "" {
		u, err := s.users.FindByProvider(r.Context(), OIDCProvider, id.ID)
		switch {
		case err == nil:
			resp.Username = u.Username
		case !errors.Is(err, users.ErrNotFound):
			s.logger.Warn("unable to look up linked user", "subject", id.ID, "error", err)
		}
	}
	auth.WriteJSON(w, http.StatusOK, resp)
}

// handleLogout returns the provider's end session URL. It never fails: when
// the URL cannot be built the post logout redirect is returned instead.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.WriteJSON(w, http.StatusOK, &logoutResponse{
		LogoutURL: s.logoutURL(r.Context(), oidc.IDToken(r.FormValue("id_token_hint"))),
		Message:   MsgLogoutRedirect,
	})
}

func (s *Server) logoutURL(ctx context.Context, hint oidc.IDToken) string {
	if s.provider == nil {
		s.logger.Warn("no identity provider configured, using post logout redirect")
		return s.postLogoutRedirectURL
	}
	if s.logoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.logoutTimeout)
		defer cancel()
	}
	u, err := s.provider.LogoutURL(ctx, hint)
	if err != nil {
		s.logger.Warn("unable to build logout URL, using post logout redirect", "error", err)
		return s.postLogoutRedirectURL
	}
	return u
}

// handleOAuthLogin starts the secondary OAuth login.
func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleOAuthLogin"
	if s.oauth == nil {
		s.writeError(w, r, notConfigured(op, "OAuth login"))
		return
	}
	req, err := oidc.NewRequest(s.stateTTL)
	if err != nil {
		s.writeError(w, r, auth.NewError(auth.KindUnknown, auth.WithOp(op), auth.WithWrap(err)))
		return
	}
	s.startLogin(w, r, req, s.oauth.AuthURL(req))
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauthCallback == nil {
		s.callbackError(r.FormValue("state"), nil, notConfigured("server.handleOAuthCallback", "OAuth login"), w, r)
		return
	}
	s.oauthCallback(w, r)
}
