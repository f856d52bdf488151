// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"
)

// maxUsernameAttempts bounds the numeric suffixes tried for a linked
// account whose preferred username is taken.
const maxUsernameAttempts = 20

// Service manages accounts on top of a Store.
type Service struct {
	store  Store
	logger hclog.Logger
	cost   int
	now    func() time.Time
}

// NewService creates a Service.
//
// Supported options: WithLogger, WithBcryptCost, WithNow
func NewService(s Store, opt ...Option) (*Service, error) {
	const op = "users.NewService"
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrInvalidParameter)
	}
	opts := getServiceOpts(opt...)
	return &Service{
		store:  s,
		logger: opts.withLogger,
		cost:   opts.withBcryptCost,
		now:    opts.withNow,
	}, nil
}

// CreateLocal creates a username/password account. The password is stored
// as a bcrypt hash.
func (s *Service) CreateLocal(ctx context.Context, username, password, email string) (*User, error) {
	const op = "Service.CreateLocal"
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
	case password == "":
		return nil, fmt.Errorf("%s: password is empty: %w", op, ErrInvalidParameter)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to hash password: %w", op, err)
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("created local user", "id", u.ID)
	return &u, nil
}

// FindByUsername returns the user with username.
func (s *Service) FindByUsername(ctx context.Context, username string) (*User, error) {
	const op = "Service.FindByUsername"
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// FindByID returns the user with id.
func (s *Service) FindByID(ctx context.Context, id string) (*User, error) {
	const op = "Service.FindByID"
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// FindByProvider returns the account linked to provider's providerID.
func (s *Service) FindByProvider(ctx context.Context, provider, providerID string) (*User, error) {
	const op = "Service.FindByProvider"
	u, err := s.store.GetUserByProvider(ctx, provider, providerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// ValidatePassword reports whether password matches u's password. Accounts
// without a password never match.
func (s *Service) ValidatePassword(u *User, password string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// FindOrCreateFromOAuth returns the account linked to provider's providerID,
// creating it on first login.
//
// A new account's username is the profile's "username", else "login", else
// "email", else provider_providerID. A taken username gets a numeric suffix.
func (s *Service) FindOrCreateFromOAuth(ctx context.Context, provider, providerID string, profile map[string]interface{}) (*User, error) {
	const op = "Service.FindOrCreateFromOAuth"
	switch {
	case provider == "":
		return nil, fmt.Errorf("%s: provider is empty: %w", op, ErrInvalidParameter)
	case providerID == "":
		return nil, fmt.Errorf("%s: provider id is empty: %w", op, ErrInvalidParameter)
	}

	u, err := s.store.GetUserByProvider(ctx, provider, providerID)
	switch {
	case err == nil:
		return &u, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	base := PreferredUsername(provider, providerID, profile)
	email, _ := profile["email"].(string)
	for i := 1; i <= maxUsernameAttempts; i++ {
		username := base
		if i > 1 {
			username = fmt.Sprintf("%s%d", base, i)
		}
		u = User{
			ID:         uuid.NewString(),
			Username:   username,
			Email:      email,
			Provider:   provider,
			ProviderID: providerID,
			CreatedAt:  s.now().UTC(),
		}
		err := s.store.CreateUser(ctx, u)
		if err == nil {
			s.logger.Info("linked user", "id", u.ID, "provider", provider)
			return &u, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		// a concurrent login may have linked the same subject
		if existing, err := s.store.GetUserByProvider(ctx, provider, providerID); err == nil {
			return &existing, nil
		}
	}
	return nil, fmt.Errorf("%s: %q: %w", op, base, ErrUsernameTaken)
}

// PreferredUsername picks the username for a newly linked account.
func PreferredUsername(provider, providerID string, profile map[string]interface{}) string {
	for _, k := range []string{"username", "login", "email"} {
		if v, ok := profile[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return provider + "_" + providerID
}
