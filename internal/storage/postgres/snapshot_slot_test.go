package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestWrapSlotError(t *testing.T) {
	t.Parallel()

	undefined := wrapSlotError("get cart snapshot", &pgconn.PgError{Code: pgUndefinedTable, Message: "relation does not exist"})
	if !errors.Is(undefined, domain.ErrSlotUnavailable) {
		t.Fatalf("missing table must map to ErrSlotUnavailable, got %v", undefined)
	}

	cause := errors.New("connection reset")
	other := wrapSlotError("put cart snapshot", cause)
	if errors.Is(other, domain.ErrSlotUnavailable) {
		t.Fatalf("generic errors must not map to ErrSlotUnavailable: %v", other)
	}
	if !errors.Is(other, cause) {
		t.Fatalf("cause must be preserved: %v", other)
	}
}
