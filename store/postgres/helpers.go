package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// pgNow truncates to microseconds, the precision TIMESTAMPTZ keeps, so a
// record read back compares equal to the one written.
func pgNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
