// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hashicorp/capnotes/users"
)

const userColumns = `id, username, email, provider, provider_id, password_hash, created_at`

// CreateUser implements users.Store.
func (s *Store) CreateUser(ctx context.Context, u users.User) error {
	const op = "Store.CreateUser"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, nullString(u.Email), nullString(u.Provider), nullString(u.ProviderID),
		nullString(u.PasswordHash), toMillis(u.CreatedAt),
	)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, users.ErrAlreadyExists)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUserByID implements users.Store.
func (s *Store) GetUserByID(ctx context.Context, id string) (users.User, error) {
	return s.getUser(ctx, "Store.GetUserByID", `id = ?`, id)
}

// GetUserByUsername implements users.Store.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (users.User, error) {
	return s.getUser(ctx, "Store.GetUserByUsername", `username = ?`, username)
}

// GetUserByProvider implements users.Store.
func (s *Store) GetUserByProvider(ctx context.Context, provider, providerID string) (users.User, error) {
	return s.getUser(ctx, "Store.GetUserByProvider", `provider = ? AND provider_id = ?`, provider, providerID)
}

func (s *Store) getUser(ctx context.Context, op, where string, args ...interface{}) (users.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...)
	var (
		u                                   users.User
		email, provider, providerID, passwd sql.NullString
		createdAt                           int64
	)
	err := row.Scan(&u.ID, &u.Username, &email, &provider, &providerID, &passwd, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return users.User{}, fmt.Errorf("%s: %w", op, users.ErrNotFound)
	case err != nil:
		return users.User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.Email = email.String
	u.Provider = provider.String
	u.ProviderID = providerID.String
	u.PasswordHash = passwd.String
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}
