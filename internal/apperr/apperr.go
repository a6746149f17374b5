// Package apperr defines the error kinds shared by the domain packages.
// Domain errors wrap one of these sentinels so the HTTP layer can pick a
// status code with errors.Is without knowing every concrete error.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Postgres SQLSTATEs translated by FromDB.
const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

// FromDB translates driver errors into error kinds. Errors it does not
// recognise are returned unchanged.
func FromDB(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Join(ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return errors.Join(ErrConflict, err)
		case invalidTextRepresentation:
			return errors.Join(ErrValidation, err)
		}
	}
	return err
}

// CheckID reports ErrNotFound for an id that is not a UUID. No row can
// carry such an id, and Postgres would reject the comparison outright.
func CheckID(what, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// Kind returns the sentinel err wraps, or nil for unexpected errors.
func Kind(err error) error {
	for _, k := range []error{ErrUnauthorized, ErrValidation, ErrNotFound, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
