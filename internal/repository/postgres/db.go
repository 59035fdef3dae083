package postgres

import (
	"database/sql"
	"fmt"

	"ubipay/pkg/errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// Connect opens a pool against databaseURL and verifies it with a ping.
func Connect(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	return db, nil
}

// mapError turns driver errors that callers can act on into sentinels.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%s: %w", message, errors.ErrConcurrentUpdate)
		}
	}
	return errors.Wrap(err, message)
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
