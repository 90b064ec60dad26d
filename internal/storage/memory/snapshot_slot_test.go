package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestSnapshotSlot_PutGet(t *testing.T) {
	slot := memory.NewSnapshotSlot()
	ctx := context.Background()

	if err := slot.Put(ctx, "promo-team-cart", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	stored, err := slot.Get(ctx, "promo-team-cart")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(stored) != `{"version":1}` {
		t.Fatalf("unexpected value %s", stored)
	}
}

func TestSnapshotSlot_GetMissing(t *testing.T) {
	slot := memory.NewSnapshotSlot()

	_, err := slot.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestSnapshotSlot_StoresCopy(t *testing.T) {
	slot := memory.NewSnapshotSlot()
	ctx := context.Background()

	value := []byte("abc")
	if err := slot.Put(ctx, "k", value); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	value[0] = 'z'

	stored, _ := slot.Get(ctx, "k")
	if string(stored) != "abc" {
		t.Fatalf("slot must keep its own copy, got %s", stored)
	}
}

func TestSnapshotSlot_Quota(t *testing.T) {
	slot := memory.NewSnapshotSlot(memory.WithQuota(4))

	err := slot.Put(context.Background(), "k", []byte("too large"))
	if !errors.Is(err, domain.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if slot.Len() != 0 {
		t.Fatalf("rejected value must not be stored")
	}
}

func TestSnapshotSlot_Delete(t *testing.T) {
	slot := memory.NewSnapshotSlot()
	ctx := context.Background()

	_ = slot.Put(ctx, "k", []byte("v"))
	if err := slot.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := slot.Delete(ctx, "k"); err != nil {
		t.Fatalf("deleting a missing key must not fail: %v", err)
	}
	if _, err := slot.Get(ctx, "k"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound after delete, got %v", err)
	}
}

func TestSnapshotSlot_DeleteStale(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	slot := memory.NewSnapshotSlot(memory.WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_ = slot.Put(ctx, "old-1", []byte("1"))
	current = base.Add(time.Hour)
	_ = slot.Put(ctx, "old-2", []byte("2"))
	current = base.Add(48 * time.Hour)
	_ = slot.Put(ctx, "fresh", []byte("3"))

	deleted, err := slot.DeleteStale(ctx, base.Add(24*time.Hour), 1)
	if err != nil {
		t.Fatalf("delete stale failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted with limit 1, got %d", deleted)
	}
	if _, err := slot.Get(ctx, "old-1"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatal("oldest snapshot must be removed first")
	}

	deleted, err = slot.DeleteStale(ctx, base.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("delete stale failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if slot.Len() != 1 {
		t.Fatalf("expected only the fresh snapshot to remain, got %d", slot.Len())
	}
}
