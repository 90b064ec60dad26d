package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var _ domain.StaleSnapshotSweeper = (*stubSweeper)(nil)

func TestSnapshotWorker_DeleteStale_Batches(t *testing.T) {
	t.Parallel()

	sweeper := &stubSweeper{deleteResults: []int{2, 2, 1}}
	worker := NewSnapshotWorker(sweeper, WithBatchSize(2))

	deleted, err := worker.DeleteStale(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteStale failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := sweeper.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestSnapshotWorker_DeleteStale_Error(t *testing.T) {
	t.Parallel()

	sweeper := &stubSweeper{deleteErrors: []error{errors.New("boom")}}
	worker := NewSnapshotWorker(sweeper, WithBatchSize(10))

	deleted, err := worker.DeleteStale(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteStale error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestSnapshotWorker_UsesRetentionCutoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	sweeper := &stubSweeper{}
	worker := NewSnapshotWorker(sweeper, WithRetention(48*time.Hour), WithClock(func() time.Time { return now }))

	worker.cleanup(context.Background())

	if got := sweeper.lastBefore(); !got.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected cutoff: %s", got)
	}
}

func TestSnapshotWorker_CleansMemorySlotAndRecordsMetrics(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	slot := memory.NewSnapshotSlot(memory.WithClock(func() time.Time { return current }))
	ctx := context.Background()
	_ = slot.Put(ctx, "promo-team-cart:old", []byte("{}"))
	current = base.Add(40 * 24 * time.Hour)
	_ = slot.Put(ctx, "promo-team-cart:fresh", []byte("{}"))

	registry := prometheus.NewRegistry()
	m := metrics.NewCartMetricsWithRegisterer(registry)
	worker := NewSnapshotWorker(slot,
		WithMetrics(m),
		WithClock(func() time.Time { return current }),
	)

	worker.cleanup(ctx)

	if slot.Len() != 1 {
		t.Fatalf("expected only the fresh snapshot to remain, got %d", slot.Len())
	}
	if _, err := slot.Get(ctx, "promo-team-cart:fresh"); err != nil {
		t.Fatalf("fresh snapshot must survive: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var deletedTotal float64
	for _, family := range families {
		if family.GetName() == "storefront_cart_snapshot_cleanup_deleted_total" {
			deletedTotal = family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if deletedTotal != 1 {
		t.Fatalf("expected 1 deleted in metrics, got %v", deletedTotal)
	}
}

func TestSnapshotWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	sweeper := &stubSweeper{deleteResults: []int{0, 0, 0}}
	worker := NewSnapshotWorker(sweeper, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if calls := sweeper.calls(); calls == 0 {
		t.Fatal("expected cleanup to be called at least once")
	}
}

func TestSnapshotWorker_RunWithoutSweeper(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSnapshotWorker(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without sweeper must return immediately")
	}
}

type stubSweeper struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
	before        time.Time
}

func (s *stubSweeper) DeleteStale(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.before = before

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubSweeper) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubSweeper) lastBefore() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.before
}
