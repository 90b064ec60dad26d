package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUndefinedTable = "42P01"
)

// SnapshotSlot хранит снимки корзин в таблице cart_snapshots.
type SnapshotSlot struct {
	db *sql.DB
}

// NewSnapshotSlot создаёт PostgreSQL-реализацию SnapshotSlot.
func NewSnapshotSlot(store *Store) *SnapshotSlot {
	return &SnapshotSlot{db: store.DB()}
}

func (s *SnapshotSlot) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload::text
		FROM cart_snapshots
		WHERE key = $1
	`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, wrapSlotError("get cart snapshot", err)
	}

	return payload, nil
}

func (s *SnapshotSlot) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshots (key, payload, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, key, string(value)); err != nil {
		return wrapSlotError("put cart snapshot", err)
	}

	return nil
}

func (s *SnapshotSlot) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_snapshots WHERE key = $1`, key); err != nil {
		return wrapSlotError("delete cart snapshot", err)
	}
	return nil
}

// DeleteStale удаляет до limit снимков, не обновлявшихся с before. limit<=0 снимает ограничение.
func (s *SnapshotSlot) DeleteStale(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM cart_snapshots
			WHERE key IN (
				SELECT key
				FROM cart_snapshots
				WHERE updated_at < $1
				ORDER BY updated_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM cart_snapshots
			WHERE updated_at < $1
		`, before)
	}
	if err != nil {
		return 0, wrapSlotError("delete stale cart snapshots", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cart snapshots rows affected: %w", err)
	}

	return int(affected), nil
}

// wrapSlotError помечает отсутствие таблицы как ErrSlotUnavailable: миграции не применены.
func wrapSlotError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrSlotUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ domain.SnapshotSlot         = (*SnapshotSlot)(nil)
	_ domain.StaleSnapshotSweeper = (*SnapshotSlot)(nil)
)
