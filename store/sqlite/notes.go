// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hashicorp/capnotes/notes"
)

const noteColumns = `id, owner_id, title, content, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row scanner) (notes.Note, error) {
	var (
		n                    notes.Note
		createdAt, updatedAt int64
	)
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &createdAt, &updatedAt); err != nil {
		return notes.Note{}, err
	}
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updatedAt)
	return n, nil
}

// CreateNote implements notes.Store.
func (s *Store) CreateNote(ctx context.Context, n notes.Note) error {
	const op = "Store.CreateNote"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.Title, n.Content, toMillis(n.CreatedAt), toMillis(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListNotesByOwner implements notes.Store.
func (s *Store) ListNotesByOwner(ctx context.Context, ownerID string) ([]notes.Note, error) {
	const op = "Store.ListNotesByOwner"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE owner_id = ? ORDER BY created_at, rowid`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	list := []notes.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// GetNote implements notes.Store.
func (s *Store) GetNote(ctx context.Context, ownerID, id string) (notes.Note, error) {
	const op = "Store.GetNote"
	n, err := scanNote(s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE owner_id = ? AND id = ?`, ownerID, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notes.Note{}, fmt.Errorf("%s: %w", op, notes.ErrNotFound)
	case err != nil:
		return notes.Note{}, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// UpdateNote implements notes.Store.
func (s *Store) UpdateNote(ctx context.Context, n notes.Note) error {
	const op = "Store.UpdateNote"
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		n.Title, n.Content, toMillis(n.UpdatedAt), n.OwnerID, n.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, notes.ErrNotFound)
	}
	return nil
}
