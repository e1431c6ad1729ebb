package cascade

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// DeletionError reports a deal that could not be removed by any strategy.
// Error() is safe to show to clients; Detail() carries the diagnostics.
type DeletionError struct {
	DealID     int64
	Path       Path
	Table      string
	Constraint string
	Code       string
	Err        error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("deal %d could not be deleted", e.DealID)
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}

// Detail returns the full diagnostic message for logs
func (e *DeletionError) Detail() string {
	return fmt.Sprintf("deal %d: path=%s table=%s constraint=%s code=%s: %v",
		e.DealID, e.Path, e.Table, e.Constraint, e.Code, e.Err)
}

// stepError ties a database error to the step that produced it
type stepError struct {
	step Step
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("delete from %s failed: %v", e.step, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

func newDeletionError(dealID int64, path Path, err error) *DeletionError {
	de := &DeletionError{DealID: dealID, Path: path, Err: err}

	var se *stepError
	if errors.As(err, &se) {
		de.Table = se.step.Table
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		de.Code = pgErr.Code
		de.Constraint = pgErr.ConstraintName
		if pgErr.TableName != "" {
			de.Table = pgErr.TableName
		}
	}
	return de
}
