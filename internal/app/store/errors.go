package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// IsUniqueViolation checks if the error is a SQLite unique or primary key
// constraint violation.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
