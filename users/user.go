// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyExists    = errors.New("user already exists")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUsernameTaken    = errors.New("no free username")
)

// User is an account. Local accounts carry a PasswordHash; linked accounts
// carry a Provider and ProviderID instead.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	ProviderID   string    `json:"providerId,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists users. Create must return ErrAlreadyExists when the username
// or the (provider, provider id) pair is taken, and the getters must return
// ErrNotFound for a missing user.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByProvider(ctx context.Context, provider, providerID string) (User, error)
}
