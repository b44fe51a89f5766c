package dbutil

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Rebind rewrites '?' placeholders into postgres positional parameters.
func Rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func IsConflict(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
