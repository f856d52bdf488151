// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hashicorp/capnotes/config"
	"github.com/hashicorp/capnotes/metrics"
	"github.com/hashicorp/capnotes/notes"
	"github.com/hashicorp/capnotes/server"
	"github.com/hashicorp/capnotes/store/sqlite"
	"github.com/hashicorp/capnotes/users"
)

const (
	gracefulTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notes API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, c, newLogger(c))
		},
	}
	cmd.Flags().Int("port", 0, "Port to listen on")
	cmd.Flags().String("database", "", "Path to the SQLite database")
	bindFlag(v, "port", cmd.Flags().Lookup("port"))
	bindFlag(v, "database_path", cmd.Flags().Lookup("database"))
	return cmd
}

// bindFlag binds f to key. Unset flags leave the environment and defaults
// in charge.
func bindFlag(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("unable to bind flag %q: %v", f.Name, err))
	}
}

func newLogger(c *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "capnotes",
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogFormat == "json",
		Output:     os.Stderr,
	})
}

func runServe(ctx context.Context, c *config.Config, logger hclog.Logger) error {
	db, err := sqlite.Open(ctx, c.DatabasePath, logger.Named("sqlite"))
	if err != nil {
		return err
	}
	defer db.Close()

	userSvc, err := users.NewService(db, users.WithLogger(logger.Named("users")))
	if err != nil {
		return err
	}
	noteSvc, err := notes.NewService(db, nil)
	if err != nil {
		return err
	}

	m := metrics.New()
	provider, err := server.NewProvider(c, logger)
	if err != nil {
		return err
	}
	if provider != nil {
		defer provider.Done()
	} else {
		logger.Warn("no identity provider configured, login is disabled")
	}

	strategy, err := server.NewStrategy(c, provider, m, logger)
	if err != nil {
		return err
	}
	requests, closeRequests, err := server.NewRequestStore(ctx, c.RedisURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRequests(); err != nil {
			logger.Warn("unable to close request store", "error", err)
		}
	}()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithFrontendURL(c.FrontendURL),
		server.WithPostLogoutRedirectURL(c.IDP.PostLogoutRedirectURI),
		server.WithStateTTL(c.StateTTL),
		server.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst),
		server.WithHealthCheck(db.Ping),
		server.WithTrustedProxies(c.TrustedProxies...),
	}
	if provider != nil {
		opts = append(opts, server.WithProvider(provider))
	}
	if c.OAuth.Enabled() {
		l, err := server.NewOAuthLogin(c.OAuth, nil)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithOAuth(l))
	}
	srv, err := server.New(strategy, requests, userSvc, noteSvc, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(c.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr, "strategy", c.JWT.Strategy)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
