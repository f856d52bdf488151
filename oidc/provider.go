// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/hashicorp/capnotes/auth"
	sdkhttp "github.com/hashicorp/capnotes/sdk/http"
)

// DefaultExchangeRetryTimeout bounds the single retry of a token request
// that failed before the provider responded.
const DefaultExchangeRetryTimeout = 3 * time.Second

// exchangeRetryDelay is the pause before that retry.
const exchangeRetryDelay = 100 * time.Millisecond

type providerOptions struct {
	withLogger               hclog.Logger
	withHTTPClient           *http.Client
	withExchangeRetryTimeout time.Duration
}

func providerDefaults() providerOptions {
	return providerOptions{
		withLogger:               hclog.NewNullLogger(),
		withExchangeRetryTimeout: DefaultExchangeRetryTimeout,
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// Provider provides integration with an OIDC provider using the
// authorization code flow.
type Provider struct {
	config   *Config
	provider *gooidc.Provider
	client   *http.Client
	logger   hclog.Logger

	retryTimeout       time.Duration
	jwksURL            string
	endSessionEndpoint string

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like fetching the id_token signing keys.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider. Initializing the provider
// includes making an http request to the provider's issuer for discovery; a
// failure is returned rather than deferred to first use.
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options: WithLogger, WithHTTPClient, WithExchangeRetryTimeout
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("provider config is nil: %w", ErrNilParameter)))
	}
	if err := c.Validate(); err != nil {
		return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with its background ctx/cancel will allow us
	// to use p.Done() to release any resources when returning errors from
	// this function.
	p := &Provider{
		config:              c,
		logger:              opts.withLogger,
		retryTimeout:        opts.withExchangeRetryTimeout,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	p.client = opts.withHTTPClient
	if p.client == nil {
		client, err := c.HTTPClient()
		if err != nil {
			p.Done()
			return nil, auth.NewError(auth.KindConfiguration, auth.WithOp(op), auth.WithWrap(err))
		}
		p.client = client
	}

	provider, err := gooidc.NewProvider(sdkhttp.ClientContext(p.backgroundCtx, p.client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done()
		return nil, auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Unable to reach the identity provider"),
			auth.WithWrap(fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)))
	}
	p.provider = provider

	var discovered struct {
		JWKSURL            string `json:"jwks_uri"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovered); err != nil {
		p.Done()
		return nil, auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("%w: unable to read discovery document: %w", ErrDiscoveryFailed, err)))
	}
	p.jwksURL = discovered.JWKSURL
	p.endSessionEndpoint = discovered.EndSessionEndpoint
	p.logger.Debug("discovered provider", "issuer", c.Issuer, "jwks_uri", p.jwksURL, "end_session_endpoint", p.endSessionEndpoint)
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created.
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Issuer returns the provider's issuer URL.
func (p *Provider) Issuer() string { return p.config.Issuer }

// JWKSURL returns the jwks_uri from the provider's discovery document.
func (p *Provider) JWKSURL() string { return p.jwksURL }

// HTTPClient returns the client used for requests to the provider.
func (p *Provider) HTTPClient() *http.Client { return p.client }

func (p *Provider) oauth2Config(redirectURL string) *oauth2.Config {
	ep := p.provider.Endpoint()
	if ep.AuthStyle == oauth2.AuthStyleAutoDetect {
		// auto detection resends a failed token request with the other auth
		// style, which would defeat the single retry in exchange
		ep.AuthStyle = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     ep,
		Scopes:       p.config.scopes(),
	}
}

func (p *Provider) redirectURL(op string, r *Request) (string, error) {
	if u := r.RedirectURL(); u != "" {
		return u, nil
	}
	if p.config.RedirectURL != "" {
		return p.config.RedirectURL, nil
	}
	return "", auth.NewError(auth.KindConfiguration, auth.WithOp(op),
		auth.WithMsg("Redirect URI is not configured"),
		auth.WithWrap(ErrMissingRedirectURL))
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the provider. See NewRequest() to create a
// Request with a valid state and nonce that will uniquely identify the
// user's authentication attempt throughout the flow.
func (p *Provider) AuthURL(ctx context.Context, r *Request) (string, error) {
	const op = "Provider.AuthURL"
	if r == nil {
		return "", auth.NewError(auth.KindValidation, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("request is nil: %w", ErrNilParameter)))
	}
	if r.State() == r.Nonce() {
		return "", auth.NewError(auth.KindValidation, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("request state and nonce cannot be equal: %w", ErrInvalidParameter)))
	}
	if r.IsExpired() {
		return "", auth.NewError(auth.KindValidation, auth.WithOp(op), auth.WithCode("invalid_state"),
			auth.WithMsg("Login request is expired"), auth.WithWrap(ErrExpiredRequest))
	}
	redirect, err := p.redirectURL(op, r)
	if err != nil {
		return "", err
	}

	authCodeOpts := []oauth2.AuthCodeOption{
		gooidc.Nonce(r.Nonce()),
	}
	if v := r.OrganizationID(); v != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("organization_id", v))
	}
	if v := r.ConnectionID(); v != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("connection_id", v))
	}
	return p.oauth2Config(redirect).AuthCodeURL(r.State(), authCodeOpts...), nil
}

// Exchange will request a token from the provider's token endpoint using the
// authorization code received for r. A token request that fails before the
// provider responds is retried once.
//
// When the response includes an id_token it is verified, including its
// nonce, and supplies the identity claims. Otherwise the claims are read
// from the provider's userinfo endpoint.
//
// Errors are *auth.Error values: KindValidation for a missing code,
// KindAuthentication when the provider rejects the code or returns an
// id_token that fails verification, KindConfiguration when the provider
// rejects the client itself, and KindProvider when the provider cannot be
// reached or fails.
func (p *Provider) Exchange(ctx context.Context, r *Request, code string) (*Token, *auth.Identity, error) {
	const op = "Provider.Exchange"
	if r == nil {
		return nil, nil, auth.NewError(auth.KindValidation, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("request is nil: %w", ErrNilParameter)))
	}
	if code == "" {
		return nil, nil, auth.NewError(auth.KindValidation, auth.WithOp(op), auth.WithCode("invalid_request"),
			auth.WithMsg("Authorization code is required"), auth.WithWrap(ErrMissingCode))
	}
	if r.IsExpired() {
		return nil, nil, auth.NewError(auth.KindValidation, auth.WithOp(op), auth.WithCode("invalid_state"),
			auth.WithMsg("Login request is expired"), auth.WithWrap(ErrExpiredRequest))
	}
	redirect, err := p.redirectURL(op, r)
	if err != nil {
		return nil, nil, err
	}

	oauth2Token, err := p.exchange(ctx, p.oauth2Config(redirect), code)
	if err != nil {
		return nil, nil, exchangeError(op, err)
	}
	t, err := NewToken(oauth2Token)
	if err != nil {
		return nil, nil, auth.NewError(auth.KindProvider, auth.WithOp(op), auth.WithWrap(err))
	}

	var claims map[string]interface{}
	if t.IDToken() != "" {
		claims, err = p.VerifyIDToken(ctx, t.IDToken(), r.Nonce())
	} else {
		claims, err = p.UserInfo(ctx, oauth2.StaticTokenSource(oauth2Token))
	}
	if err != nil {
		return nil, nil, err
	}
	id, err := auth.NewIdentity(claims)
	if err != nil {
		return nil, nil, err
	}
	return t, id, nil
}

// exchange calls the token endpoint, retrying once when the first attempt
// failed before any response was received.
func (p *Provider) exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	attempt := 0
	operation := func() (*oauth2.Token, error) {
		attempt++
		callCtx := ctx
		if attempt > 1 {
			p.logger.Warn("retrying token request", "attempt", attempt)
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.retryTimeout)
			defer cancel()
		}
		tk, err := cfg.Exchange(sdkhttp.ClientContext(callCtx, p.client), code)
		if err != nil && !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return tk, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(exchangeRetryDelay)),
		backoff.WithMaxTries(2),
	)
}

// isTransient reports whether err happened before the provider sent any
// response, so the request can safely be sent again.
func isTransient(err error) bool {
	var rErr *oauth2.RetrieveError
	switch {
	case errors.As(err, &rErr):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// ClientRejected reports whether err is a token endpoint response refusing
// the client rather than the grant: invalid_client, unauthorized_client, or
// a 401 without an error code. No user action can fix these.
func ClientRejected(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return false
	}
	switch rErr.ErrorCode {
	case "invalid_client", "unauthorized_client":
		return true
	case "":
		return rErr.Response != nil && rErr.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}

// exchangeError maps a token endpoint failure to an *auth.Error.
func exchangeError(op string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		switch {
		case ClientRejected(err):
			return auth.NewError(auth.KindConfiguration, auth.WithOp(op),
				auth.WithMsg("Login is not configured correctly"),
				auth.WithWrap(fmt.Errorf("%w: status %d: %w", ErrClientRejected, status, err)))
		case rErr.ErrorCode == "invalid_grant", status >= 400 && status < 500:
			return auth.NewError(auth.KindAuthentication, auth.WithOp(op),
				auth.WithCode("invalid_grant"),
				auth.WithMsg("Invalid or expired authorization code"),
				auth.WithWrap(fmt.Errorf("%w: %w", ErrInvalidGrant, err)))
		default:
			return auth.NewError(auth.KindProvider, auth.WithOp(op),
				auth.WithMsg("Token exchange failed"),
				auth.WithWrap(fmt.Errorf("%w: status %d: %w", ErrExchangeFailed, status, err)))
		}
	}
	var uErr *url.Error
	msg := "Token exchange failed"
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uErr) && uErr.Timeout()) {
		msg = "Token exchange timed out"
	}
	return auth.NewError(auth.KindProvider, auth.WithOp(op),
		auth.WithMsg(msg),
		auth.WithWrap(fmt.Errorf("%w: %w", ErrExchangeFailed, err)))
}

// VerifyIDToken will verify the id_token and return its claims. It verifies
// the token has been signed by the provider, was issued for this client,
// and carries nonce.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	fail := func(err error) error {
		return auth.NewError(auth.KindAuthentication, auth.WithOp(op),
			auth.WithMsg("Token verification failure"),
			auth.WithWrap(fmt.Errorf("%w: %w", ErrIDTokenVerificationFailed, err)))
	}
	if t == "" {
		return nil, fail(fmt.Errorf("id_token is empty: %w", ErrInvalidParameter))
	}
	if nonce == "" {
		return nil, fail(fmt.Errorf("nonce is empty: %w", ErrInvalidParameter))
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := p.provider.Verifier(&gooidc.Config{
		ClientID:             p.config.ClientID,
		SupportedSigningAlgs: algs,
	})

	idToken, err := verifier.Verify(sdkhttp.ClientContext(ctx, p.client), string(t))
	if err != nil {
		return nil, fail(err)
	}
	if idToken.Nonce != nonce {
		return nil, fail(ErrInvalidNonce)
	}
	if len(p.config.Audiences) > 0 && !containsAny(idToken.Audience, p.config.Audiences) {
		return nil, fail(fmt.Errorf("id_token audience %v not allowed: %w", idToken.Audience, ErrInvalidParameter))
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fail(err)
	}
	return claims, nil
}

func containsAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// UserInfo gets the UserInfo claims from the provider using the token
// produced by the tokenSource.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource) (map[string]interface{}, error) {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return nil, auth.NewError(auth.KindValidation, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("token source is nil: %w", ErrNilParameter)))
	}
	userinfo, err := p.provider.UserInfo(sdkhttp.ClientContext(ctx, p.client), tokenSource)
	if err != nil {
		return nil, auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Unable to read user profile"),
			auth.WithWrap(fmt.Errorf("%w: %w", ErrUserInfoFailed, err)))
	}
	var claims map[string]interface{}
	if err := userinfo.Claims(&claims); err != nil {
		return nil, auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Unable to read user profile"),
			auth.WithWrap(fmt.Errorf("%w: %w", ErrUserInfoFailed, err)))
	}
	return claims, nil
}

// LogoutURL returns the provider's end session URL for the configured post
// logout redirect. idTokenHint is optional.
func (p *Provider) LogoutURL(ctx context.Context, idTokenHint IDToken) (string, error) {
	const op = "Provider.LogoutURL"
	if err := ctx.Err(); err != nil {
		return "", auth.NewError(auth.KindProvider, auth.WithOp(op), auth.WithWrap(err))
	}
	endpoint := p.endSessionEndpoint
	if endpoint == "" {
		endpoint = p.config.LogoutURL
	}
	if endpoint == "" {
		return "", auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithMsg("Logout is not supported by the identity provider"),
			auth.WithWrap(ErrMissingEndSessionEndpoint))
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", auth.NewError(auth.KindProvider, auth.WithOp(op),
			auth.WithWrap(fmt.Errorf("end session endpoint %q: %w", endpoint, err)))
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if p.config.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURL)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
