package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type snapshotEntry struct {
	value     []byte
	updatedAt time.Time
}

// SnapshotSlot — in-memory реализация domain.SnapshotSlot для локальной разработки и тестов.
type SnapshotSlot struct {
	mu    sync.RWMutex
	items map[string]snapshotEntry
	// quota ограничивает размер одного значения в байтах (0 — без ограничения),
	// по аналогии с квотой localStorage в браузере.
	quota int
	now   func() time.Time
}

// SnapshotSlotOption настраивает SnapshotSlot.
type SnapshotSlotOption func(*SnapshotSlot)

// WithQuota ограничивает размер одного снимка.
func WithQuota(bytes int) SnapshotSlotOption {
	return func(s *SnapshotSlot) {
		s.quota = bytes
	}
}

// WithClock подменяет источник времени для updated_at.
func WithClock(now func() time.Time) SnapshotSlotOption {
	return func(s *SnapshotSlot) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSnapshotSlot создаёт пустой in-memory слот.
func NewSnapshotSlot(options ...SnapshotSlotOption) *SnapshotSlot {
	slot := &SnapshotSlot{
		items: make(map[string]snapshotEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(slot)
	}
	return slot
}

// Get возвращает копию значения или ErrSnapshotNotFound.
func (s *SnapshotSlot) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[key]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return cloneBytes(entry.value), nil
}

// Put перезаписывает значение, если оно укладывается в квоту.
func (s *SnapshotSlot) Put(_ context.Context, key string, value []byte) error {
	if s.quota > 0 && len(value) > s.quota {
		return fmt.Errorf("snapshot of %d bytes exceeds quota %d: %w", len(value), s.quota, domain.ErrSlotUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Храним копию, чтобы вызывающий не мог мутировать снимок.
	s.items[key] = snapshotEntry{value: cloneBytes(value), updatedAt: s.now()}
	return nil
}

// Delete удаляет значение по ключу.
func (s *SnapshotSlot) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// DeleteStale удаляет до limit снимков, обновлённых раньше before (самые старые первыми).
func (s *SnapshotSlot) DeleteStale(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := make([]string, 0)
	for key, entry := range s.items {
		if entry.updatedAt.Before(before) {
			stale = append(stale, key)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		left, right := s.items[stale[i]].updatedAt, s.items[stale[j]].updatedAt
		if !left.Equal(right) {
			return left.Before(right)
		}
		return stale[i] < stale[j]
	})

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, key := range stale {
		delete(s.items, key)
	}

	return len(stale), nil
}

// Len возвращает количество сохранённых снимков.
func (s *SnapshotSlot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ domain.SnapshotSlot         = (*SnapshotSlot)(nil)
	_ domain.StaleSnapshotSweeper = (*SnapshotSlot)(nil)
)
