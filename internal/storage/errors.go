package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/solacehq/solace/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist or is not
// owned by the caller. The two cases are deliberately indistinguishable.
var ErrNotFound = fmt.Errorf("storage: %w", model.ErrNotFound)

// ErrConflict is returned when a write would violate a uniqueness rule.
var ErrConflict = fmt.Errorf("storage: %w", model.ErrConflict)

// Postgres SQLSTATE codes the storage layer maps to domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// pgCode returns the SQLSTATE of a Postgres error, or "" for other errors.
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
