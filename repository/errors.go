package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL error codes the handlers care about.
const (
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure
)

// Repository-level error codes.
const (
	CodeNotFound = "ENTITY_NOT_FOUND"
	CodeConflict = "CONFLICT"
	CodeDatabase = "DATABASE_ERROR"
)

// RepositoryError is the typed error the persistence layer returns. Code is
// either a PostgreSQL SQLSTATE or one of the repository-level codes above.
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// wrapDBError maps a gorm/pg error into a RepositoryError.
func wrapDBError(err error, notFoundDetail string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &RepositoryError{
			Code:    CodeNotFound,
			Message: "record does not exist",
			Detail:  notFoundDetail,
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    CodeDatabase,
		Message: "database error occurred",
		Detail:  err.Error(),
	}
}

func conflictError(detail string) error {
	return &RepositoryError{
		Code:    CodeConflict,
		Message: "record changed concurrently",
		Detail:  detail,
	}
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re) && re.Code == CodeNotFound
}

// IsConflict reports whether err is a lost-update conflict.
func IsConflict(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re) && re.Code == CodeConflict
}

// Code returns the RepositoryError code for err, or CodeDatabase when err is
// some other error type.
func Code(err error) string {
	var re *RepositoryError
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeDatabase
}
