package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/apperr"
)

// mapNotFound converts pgx.ErrNoRows into the engine's typed not-found
// error for the given entity, passing other errors through wrapped.
func mapNotFound(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.NotFound, entity+" not found")
	}
	return fmt.Errorf("querying %s: %w", entity, err)
}
