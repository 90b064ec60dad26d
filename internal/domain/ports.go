package domain

import (
	"context"
	"time"
)

// SnapshotSlot — долговременный key-value слот для сериализованного снимка корзины.
type SnapshotSlot interface {
	// Get возвращает сохранённое значение или ErrSnapshotNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put перезаписывает значение по ключу целиком.
	Put(ctx context.Context, key string, value []byte) error
	// Delete удаляет значение; отсутствие ключа не считается ошибкой.
	Delete(ctx context.Context, key string) error
}

// StaleSnapshotSweeper удаляет снимки, которые не обновлялись дольше срока хранения.
type StaleSnapshotSweeper interface {
	DeleteStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// Notifier — наблюдатель для всплывающих уведомлений (toast).
// Вызовы fire-and-forget: реализация не должна блокировать вызывающего.
type Notifier interface {
	Success(message string)
	Info(message string)
}

// NotifierFunc адаптирует пару функций к интерфейсу Notifier.
type NotifierFunc struct {
	OnSuccess func(message string)
	OnInfo    func(message string)
}

func (f NotifierFunc) Success(message string) {
	if f.OnSuccess != nil {
		f.OnSuccess(message)
	}
}

func (f NotifierFunc) Info(message string) {
	if f.OnInfo != nil {
		f.OnInfo(message)
	}
}
