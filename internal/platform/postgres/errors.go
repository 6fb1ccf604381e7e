package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/securotron/internal/task"
)

// PostgreSQL error codes
const (
	// undefinedTableCode is raised when the queue table has not been migrated
	undefinedTableCode = "42P01"

	// invalidTextRepresentationCode is raised for malformed UUID parameters
	invalidTextRepresentationCode = "22P02"
)

// ErrNotMigrated is returned when the queue table does not exist
var ErrNotMigrated = errors.New("queue table missing, run the migrate command")

// MapError maps a database error to an agent error.
// It wraps the original error to preserve context.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", task.ErrMessageNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case undefinedTableCode:
			return fmt.Errorf("%w: %v", ErrNotMigrated, err)
		case invalidTextRepresentationCode:
			return fmt.Errorf("%w: %v", task.ErrMessageNotFound, err)
		}
	}

	return err
}

// CheckRowsAffected returns task.ErrMessageNotFound when result affected no rows.
func CheckRowsAffected(result sql.Result) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return task.ErrMessageNotFound
	}
	return nil
}
