package sqldb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/backoffice/ledger"
)

// PostgreSQL SQLSTATE codes mapped onto the ledger taxonomy.
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
)

// translate maps driver errors onto the ledger error taxonomy. Unknown
// errors are wrapped with op.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &ledger.TransientStoreError{Op: op, Err: err}
		case sqlite3.ErrConstraint:
			switch liteErr.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				return ledger.Conflict("%s: duplicate value (%v)", op, err)
			case sqlite3.ErrConstraintForeignKey:
				return ledger.Conflict("%s: referenced row missing or still referenced", op)
			case sqlite3.ErrConstraintCheck:
				return ledger.Invalid("", "%s: %v", op, err)
			}
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return &ledger.TransientStoreError{Op: op, Err: err}
		case pgUniqueViolation:
			return ledger.Conflict("%s: duplicate value (%s)", op, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return ledger.Conflict("%s: referenced row missing or still referenced (%s)", op, pgErr.ConstraintName)
		case pgCheckViolation:
			return ledger.Invalid("", "%s: constraint %s", op, pgErr.ConstraintName)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// notFound turns sql.ErrNoRows into a NotFoundError.
func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NotFound(entity, id)
	}
	return translate("get "+entity, err)
}
