package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
	CodeCheckViolation       = "23514"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func violates(err error, code, constraint string) bool {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	return violates(err, CodeUniqueViolation, constraint)
}

// IsExclusionViolation reports whether err is an exclusion constraint violation.
func IsExclusionViolation(err error, constraint string) bool {
	return violates(err, CodeExclusionViolation, constraint)
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error, constraint string) bool {
	return violates(err, CodeCheckViolation, constraint)
}

// IsRetryable reports whether the transaction that produced err can be
// retried unchanged: serialization failures, deadlocks and lock timeouts.
func IsRetryable(err error) bool {
	pgErr, ok := pgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return true
	}
	return false
}
