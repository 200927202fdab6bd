package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

var (
	ErrConflict             = errors.New("uniqueness conflict")
	ErrUnknownColumn        = errors.New("unknown column")
	ErrNoFields             = errors.New("no fields given")
	ErrMultipleRows         = errors.New("more than one row matched")
	ErrUnsupportedAggregate = errors.New("unsupported aggregate function")
)

// ConflictError is returned when a write violates a unique constraint.
// It matches ErrConflict through errors.Is and unwraps to the driver error.
type ConflictError struct {
	Table string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConflict, e.Table, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsConflict reports whether err is (or wraps) a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// translateError turns a MySQL duplicate-key failure into a *ConflictError and
// leaves every other error untouched.
func translateError(table string, err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return &ConflictError{Table: table, Err: err}
	}
	return err
}
