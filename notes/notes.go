// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package notes provides owner-scoped notes. Every operation takes the
// owner's identity id; a note owned by someone else is reported as not
// found.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hashicorp/capnotes/auth"
)

var (
	ErrNotFound         = errors.New("note not found")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Note is a titled piece of text owned by one identity.
type Note struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch holds the fields of an update. Nil fields are left unchanged.
type Patch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Store persists notes. GetNote and UpdateNote must return ErrNotFound when
// no note has both the id and the owner.
type Store interface {
	CreateNote(ctx context.Context, n Note) error
	ListNotesByOwner(ctx context.Context, ownerID string) ([]Note, error)
	GetNote(ctx context.Context, ownerID, id string) (Note, error)
	UpdateNote(ctx context.Context, n Note) error
}

// Service implements the notes operations on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service. A nil now uses time.Now.
func NewService(s Store, now func() time.Time) (*Service, error) {
	const op = "notes.NewService"
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrInvalidParameter)
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}, nil
}

func validationError(op, msg string) error {
	return auth.NewError(auth.KindValidation, auth.WithOp(op), auth.WithMsg(msg), auth.WithWrap(ErrInvalidParameter))
}

// Create stores a new note for ownerID. The title is required.
func (s *Service) Create(ctx context.Context, ownerID, title, content string) (*Note, error) {
	const op = "Service.Create"
	if ownerID == "" {
		return nil, validationError(op, "Owner is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, validationError(op, "Title is required")
	}
	now := s.now().UTC()
	n := Note{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNote(ctx, n); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &n, nil
}

// ListForUser returns ownerID's notes, oldest first. It never returns nil.
func (s *Service) ListForUser(ctx context.Context, ownerID string) ([]Note, error) {
	const op = "Service.ListForUser"
	list, err := s.store.ListNotesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if list == nil {
		list = []Note{}
	}
	return list, nil
}

// Get returns ownerID's note id.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Note, error) {
	const op = "Service.Get"
	n, err := s.store.GetNote(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &n, nil
}

// Update applies p to ownerID's note id and bumps its UpdatedAt.
func (s *Service) Update(ctx context.Context, ownerID, id string, p Patch) (*Note, error) {
	const op = "Service.Update"
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, validationError(op, "Title cannot be empty")
	}
	n, err := s.store.GetNote(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	n.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateNote(ctx, n); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &n, nil
}
