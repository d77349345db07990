package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgDuplicateKeyCode    = "23505"
	pgSerializationCode   = "40001"
	pgDeadlockCode        = "40P01"
	pgConnectionClassCode = "08"
)

// Mapping names the domain errors database failures translate to.
// Nil fields leave the matching failures unchanged.
type Mapping struct {
	NotFound    error
	Duplicate   error
	Conflict    error
	Unavailable error
}

// MapError translates database errors to domain errors.
// sql.ErrNoRows maps to NotFound, unique violations (23505) to Duplicate,
// serialization failures and deadlocks to Conflict, and connection failures
// to Unavailable. The original error stays in the chain for logging.
func MapError(err error, m Mapping) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) && m.NotFound != nil {
		return m.NotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgDuplicateKeyCode && m.Duplicate != nil:
			return errors.Join(m.Duplicate, err)
		case (pgErr.Code == pgSerializationCode || pgErr.Code == pgDeadlockCode) && m.Conflict != nil:
			return errors.Join(m.Conflict, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgConnectionClassCode && m.Unavailable != nil:
			return errors.Join(m.Unavailable, err)
		}
		return err
	}

	if m.Unavailable != nil && unreachable(err) {
		return errors.Join(m.Unavailable, err)
	}

	return err
}

func unreachable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
