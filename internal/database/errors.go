package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// isNoRows reports whether err is pgx's no-rows sentinel, used across
// repositories to translate a missing row into a domain-specific
// ErrXNotFound rather than leaking the pgx error type.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
