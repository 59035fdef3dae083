package postgres

import (
	"database/sql"

	"ubipay/migrations"
	"ubipay/pkg/errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// NewMigrator builds a migrate instance over the embedded schema.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migration driver")
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded migrations")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrate instance")
	}
	return m, nil
}

// Migrate applies every pending up migration.
func Migrate(db *sql.DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration failed")
	}
	return nil
}
