// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capnotes/jwt"
	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

// Defaults used by a TestProvider.
const (
	TestClientID       = "test-client-id"
	TestClientSecret   = "test-client-secret"
	TestSigningKeyID   = "test-kid"
	TestSubject        = "user_123"
	TestAccessAudience = "notes-api"
	TestAccessScope    = "notes:read notes:write"
	TestRedirectURL    = "https://example.com/callback"
)

// TestProvider is a local TLS server that acts as an OIDC provider, which
// makes writing tests much easier. It serves discovery, authorize, token,
// JWKS, userinfo, introspection and logout endpoints, and failures can be
// injected into most of them.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	signingKey *rsa.PrivateKey
	jwks       jose.JSONWebKeySet

	jwksFetches   atomic.Int32
	tokenRequests atomic.Int32

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	expectedAuthCode    string
	expectedAuthNonce   string
	codeNonces          map[string]string
	subject             string
	customClaims        map[string]interface{}
	accessAudience      string
	accessScope         string
	replyUserinfo       map[string]interface{}
	issuedAccessTokens  map[string]map[string]interface{}
	omitIDToken         bool
	disableUserInfo     bool
	disableLogout       bool
	failJWKS            bool
	tokenStatus         int
	tokenErrorCode      string
	tokenDelay          time.Duration
	dropConnections     int

	t testing.TB
}

// StartTestProvider creates and starts a disposable TestProvider. It is
// stopped when the test completes.
func StartTestProvider(t testing.TB) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:            TestClientID,
		clientSecret:        TestClientSecret,
		allowedRedirectURIs: []string{TestRedirectURL},
		codeNonces:          map[string]string{},
		subject:             TestSubject,
		accessAudience:      TestAccessAudience,
		accessScope:         TestAccessScope,
		replyUserinfo:       map[string]interface{}{},
		issuedAccessTokens:  map[string]map[string]interface{}{},
		t:                   t,
	}
	p.signingKey = jwt.TestGenerateRSAKey(t)
	p.jwks = jwt.TestJWKS(TestSigningKeyID, jwt.RS256, p.signingKey.Public())

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() { p.httpServer.Close() }

// Addr returns the provider's base URL, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// JWKSURL returns the URL of the provider's key set.
func (p *TestProvider) JWKSURL() string { return p.Addr() + "/.well-known/jwks.json" }

// IntrospectionURL returns the URL of the provider's introspection endpoint.
func (p *TestProvider) IntrospectionURL() string { return p.Addr() + "/introspect" }

// HTTPClient returns a client that trusts the provider's certificate.
func (p *TestProvider) HTTPClient() *http.Client {
	c, err := sdkhttp.NewClient(p.caCert)
	require.NoError(p.t, err)
	return c
}

// JWKSFetches returns how many times the key set has been requested.
func (p *TestProvider) JWKSFetches() int { return int(p.jwksFetches.Load()) }

// TokenRequests returns how many requests the token endpoint has received.
func (p *TestProvider) TokenRequests() int { return int(p.tokenRequests.Load()) }

// SetClientCreds configures the client credentials the token endpoint
// accepts.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetAllowedRedirectURIs configures the redirect URIs the token endpoint
// accepts.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedAuthCode configures the code returned by /authorize and the
// only code /token accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce embedded in issued id_tokens
// when /authorize was not called for the code.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetSubject configures the subject of issued tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims configures additional claims for issued tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetAccessToken configures the audience and scope of issued access tokens.
func (p *TestProvider) SetAccessToken(audience, scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessAudience = audience
	p.accessScope = scope
}

// SetUserInfoReply configures additional claims returned by /userinfo.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// OmitIDTokens makes /token stop returning an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes /userinfo return 404 and omits it from discovery.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableLogout omits the end session endpoint from discovery.
func (p *TestProvider) DisableLogout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableLogout = true
}

// SetJWKSFailure makes the key set endpoint fail with 503.
func (p *TestProvider) SetJWKSFailure(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failJWKS = fail
}

// SetTokenStatus makes /token answer with status and a server_error body.
// Zero restores normal behavior.
func (p *TestProvider) SetTokenStatus(status int) {
	p.SetTokenError(status, "server_error")
}

// SetTokenError makes /token answer with status and the OAuth error code.
// A zero status restores normal behavior.
func (p *TestProvider) SetTokenError(status int, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenErrorCode = code
}

// SetTokenDelay delays every /token response.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// SetDropConnections makes the next n /token requests close the connection
// without writing a response.
func (p *TestProvider) SetDropConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropConnections = n
}

// SignJWT signs claims with the provider's key.
func (p *TestProvider) SignJWT(claims map[string]interface{}) string {
	return jwt.TestSignJWT(p.t, p.signingKey, jwt.RS256, TestSigningKeyID, claims)
}

// IssueAccessToken returns a valid access token for sub with scope. An
// empty scope omits the claim.
func (p *TestProvider) IssueAccessToken(sub, scope string) string {
	p.mu.Lock()
	aud := p.accessAudience
	p.mu.Unlock()
	now := time.Now()
	claims := map[string]interface{}{
		"sub": sub,
		"iss": p.Addr(),
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if scope != "" {
		claims["scope"] = scope
	}
	token := p.SignJWT(claims)
	p.mu.Lock()
	p.issuedAccessTokens[token] = claims
	p.mu.Unlock()
	return token
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, statusCode, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.handleDiscovery(w, req)
	case "/authorize":
		p.handleAuthorize(w, req)
	case "/token":
		p.handleToken(w, req)
	case "/.well-known/jwks.json":
		p.handleJWKS(w, req)
	case "/userinfo":
		p.handleUserInfo(w, req)
	case "/introspect":
		p.handleIntrospect(w, req)
	case "/logout":
		http.Redirect(w, req, req.URL.Query().Get("post_logout_redirect_uri"), http.StatusFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reply := struct {
		Issuer                string   `json:"issuer"`
		AuthEndpoint          string   `json:"authorization_endpoint"`
		TokenEndpoint         string   `json:"token_endpoint"`
		JWKSURI               string   `json:"jwks_uri"`
		UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
		IntrospectionEndpoint string   `json:"introspection_endpoint"`
		EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
		Algs                  []string `json:"id_token_signing_alg_values_supported"`
	}{
		Issuer:                p.Addr(),
		AuthEndpoint:          p.Addr() + "/authorize",
		TokenEndpoint:         p.Addr() + "/token",
		JWKSURI:               p.JWKSURL(),
		UserinfoEndpoint:      p.Addr() + "/userinfo",
		IntrospectionEndpoint: p.IntrospectionURL(),
		EndSessionEndpoint:    p.Addr() + "/logout",
		Algs:                  []string{string(jwt.RS256)},
	}
	if p.disableUserInfo {
		reply.UserinfoEndpoint = ""
	}
	if p.disableLogout {
		reply.EndSessionEndpoint = ""
	}
	p.writeJSON(w, http.StatusOK, &reply)
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	qv := req.URL.Query()
	switch {
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case !containsAny(strings.Fields(qv.Get("scope")), []string{ScopeOpenID}):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	case p.expectedAuthCode == "":
		p.writeAuthErrorResponse(w, req, "access_denied", "")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case qv.Get("redirect_uri") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
		return
	}
	p.codeNonces[p.expectedAuthCode] = qv.Get("nonce")

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&code=" + url.QueryEscape(p.expectedAuthCode)
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	p.tokenRequests.Add(1)
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	p.mu.Lock()
	delay := p.tokenDelay
	drop := p.dropConnections > 0
	if drop {
		p.dropConnections--
	}
	p.mu.Unlock()

	if drop {
		hj, ok := w.(http.Hijacker)
		require.True(p.t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(p.t, err)
		_ = conn.Close()
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	clientID, clientSecret, ok := req.BasicAuth()
	if !ok {
		clientID, clientSecret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	switch {
	case p.tokenStatus != 0:
		p.writeTokenErrorResponse(w, p.tokenStatus, p.tokenErrorCode, "injected failure")
		return
	case clientID != p.clientID || clientSecret != p.clientSecret:
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
		return
	case req.FormValue("grant_type") != "authorization_code":
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	case !containsAny(p.allowedRedirectURIs, []string{req.FormValue("redirect_uri")}):
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	case p.expectedAuthCode == "" || req.FormValue("code") != p.expectedAuthCode:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
		return
	}

	code := req.FormValue("code")
	nonce, ok := p.codeNonces[code]
	if !ok {
		nonce = p.expectedAuthNonce
	}
	delete(p.codeNonces, code)

	now := time.Now()
	idClaims := map[string]interface{}{
		"sub": p.subject,
		"iss": p.Addr(),
		"aud": p.clientID,
		"iat": now.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	if nonce != "" {
		idClaims["nonce"] = nonce
	}
	accessClaims := map[string]interface{}{
		"sub": p.subject,
		"iss": p.Addr(),
		"aud": p.accessAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if p.accessScope != "" {
		accessClaims["scope"] = p.accessScope
	}
	for k, v := range p.customClaims {
		idClaims[k] = v
		accessClaims[k] = v
	}

	accessToken := p.SignJWT(accessClaims)
	p.issuedAccessTokens[accessToken] = accessClaims

	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token,omitempty"`
	}{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		RefreshToken: "rt_" + code,
	}
	if !p.omitIDToken {
		reply.IDToken = p.SignJWT(idClaims)
	}
	p.writeJSON(w, http.StatusOK, &reply)
}

func (p *TestProvider) handleJWKS(w http.ResponseWriter, req *http.Request) {
	p.jwksFetches.Add(1)
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	fail := p.failJWKS
	p.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	p.writeJSON(w, http.StatusOK, p.jwks)
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disableUserInfo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	claims, ok := p.issuedAccessTokens[token]
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	reply := map[string]interface{}{"sub": claims["sub"]}
	for k, v := range p.customClaims {
		reply[k] = v
	}
	for k, v := range p.replyUserinfo {
		reply[k] = v
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) handleIntrospect(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, secret, ok := req.BasicAuth(); !ok || id != p.clientID || secret != p.clientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	claims, ok := p.issuedAccessTokens[req.FormValue("token")]
	if !ok {
		p.writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	reply := map[string]interface{}{"active": true}
	for k, v := range claims {
		reply[k] = v
	}
	p.writeJSON(w, http.StatusOK, reply)
}
