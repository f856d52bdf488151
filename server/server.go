// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package server exposes the notes API over HTTP. It mounts the OIDC login,
// callback and logout routes, the bearer protected profile and notes routes,
// and the health and metrics endpoints on a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/metrics"
	"github.com/hashicorp/capnotes/notes"
	"github.com/hashicorp/capnotes/oidc"
	"github.com/hashicorp/capnotes/oidc/callback"
	"github.com/hashicorp/capnotes/users"
)

// ErrInvalidParameter is returned by New for a missing dependency or an
// invalid option.
var ErrInvalidParameter = errors.New("invalid parameter")

// Scopes required by the notes routes.
const (
	ScopeNotesRead  = "notes:read"
	ScopeNotesWrite = "notes:write"
)

// Server holds the dependencies of every route.
type Server struct {
	strategy auth.Strategy
	requests callback.RequestStore
	users    *users.Service
	notes    *notes.Service

	provider *oidc.Provider
	oauth    *OAuthLogin
	metrics  *metrics.Metrics
	logger   hclog.Logger

	frontendURL           string
	postLogoutRedirectURL string
	stateTTL              time.Duration
	logoutTimeout         time.Duration
	requestTimeout        time.Duration
	healthCheck           func(context.Context) error

	trustedProxies []netip.Prefix
	limiter        *clientLimiter
	callback       http.HandlerFunc
	oauthCallback  http.HandlerFunc
	router         chi.Router
}

// New validates its dependencies and builds the router.
//
// Supported options: WithLogger, WithProvider, WithOAuth, WithMetrics,
// WithFrontendURL, WithPostLogoutRedirectURL, WithStateTTL,
// WithLogoutTimeout, WithRateLimit, WithRequestTimeout, WithHealthCheck,
// WithTrustedProxies
func New(strategy auth.Strategy, requests callback.RequestStore, u *users.Service, n *notes.Service, opt ...Option) (*Server, error) {
	const op = "server.New"
	switch {
	case strategy == nil:
		return nil, fmt.Errorf("%s: auth strategy is nil: %w", op, ErrInvalidParameter)
	case requests == nil:
		return nil, fmt.Errorf("%s: request store is nil: %w", op, ErrInvalidParameter)
	case u == nil:
		return nil, fmt.Errorf("%s: user service is nil: %w", op, ErrInvalidParameter)
	case n == nil:
		return nil, fmt.Errorf("%s: note service is nil: %w", op, ErrInvalidParameter)
	}
	opts := getServerOpts(opt...)
	switch {
	case opts.withStateTTL <= 0:
		return nil, fmt.Errorf("%s: state ttl must be positive: %w", op, ErrInvalidParameter)
	case opts.withRateLimitRPS <= 0 || opts.withRateLimitBurst <= 0:
		return nil, fmt.Errorf("%s: rate limit must be positive: %w", op, ErrInvalidParameter)
	}
	trusted, err := parseTrustedProxies(opts.withTrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Server{
		strategy:              strategy,
		requests:              requests,
		users:                 u,
		notes:                 n,
		provider:              opts.withProvider,
		oauth:                 opts.withOAuth,
		metrics:               opts.withMetrics,
		logger:                opts.withLogger,
		frontendURL:           opts.withFrontendURL,
		postLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		stateTTL:              opts.withStateTTL,
		logoutTimeout:         opts.withLogoutTimeout,
		requestTimeout:        opts.withRequestTimeout,
		healthCheck:           opts.withHealthCheck,
		trustedProxies:        trusted,
		limiter:               newClientLimiter(opts.withRateLimitRPS, opts.withRateLimitBurst),
	}
	if s.provider != nil {
		h, err := callback.AuthCode(s.provider, s.requests, s.callbackSuccess(OIDCProvider), s.callbackError)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.callback = h
	}
	if s.oauth != nil {
		h, err := callback.AuthCode(s.oauth, s.requests, s.callbackSuccess(OAuthProvider), s.callbackError)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.oauthCallback = h
	}
	s.setupRouter()
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(trustedRealIP(s.trustedProxies))
	r.Use(requestLogger(s.logger.Named("http")))
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.frontendURL},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	authenticate := auth.Authenticate(s.strategy, auth.WithLogger(s.logger.Named("auth")))

	r.Route("/auth", func(r chi.Router) {
		r.Use(noStore)
		r.Use(s.limiter.Handler)

		r.Get("/login", s.handleLogin)
		r.Get("/callback", s.handleCallback)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.With(authenticate).Get("/profile", s.handleProfile)

		r.Route("/oauth", func(r chi.Router) {
			r.Get("/login", s.handleOAuthLogin)
			r.Get("/callback", s.handleOAuthCallback)
		})
	})

	r.Route("/notes", func(r chi.Router) {
		r.Use(authenticate)

		r.With(auth.RequireScope(ScopeNotesWrite)).Post("/", s.handleCreateNote)
		r.With(auth.RequireScope(ScopeNotesRead)).Get("/", s.handleListNotes)
		r.With(auth.RequireScope(ScopeNotesRead)).Get("/{id}", s.handleGetNote)
		r.With(auth.RequireScope(ScopeNotesWrite)).Patch("/{id}", s.handleUpdateNote)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		auth.WriteJSON(w, http.StatusNotFound, &auth.ErrorResponse{Error: "not_found", Message: "Route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		auth.WriteJSON(w, http.StatusMethodNotAllowed, &auth.ErrorResponse{Error: "method_not_allowed", Message: "Method not allowed"})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck != nil {
		if err := s.healthCheck(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			auth.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	auth.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError writes err with the status of its kind and logs anything that
// is not the client's fault.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := auth.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	auth.WriteError(w, status, err)
}
