// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hashicorp/capnotes/store/sqlite/migrations"
)

// ApplyMigrations applies any pending migrations from the schema embedded
// in the binary.
func (s *Store) ApplyMigrations() error {
	const op = "Store.ApplyMigrations"
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("%s: unable to create migration driver: %w", op, err)
	}
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return fmt.Errorf("%s: unable to read migrations: %w", op, err)
	}
	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}
	version, _, _ := instance.Version()
	s.logger.Debug("schema migrated", "version", version)
	return nil
}
