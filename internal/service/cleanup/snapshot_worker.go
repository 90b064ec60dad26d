package cleanup

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
	defaultRetention = 30 * 24 * time.Hour
)

// Options задает параметры воркера очистки снимков корзин.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.CartMetrics
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
	Now       func() time.Time
}

// Option настраивает SnapshotWorker.
type Option func(*Options)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики прогонов очистки.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInterval задает интервал между прогонами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задает, сколько хранится корзина без изменений.
func WithRetention(retention time.Duration) Option {
	return func(opts *Options) {
		opts.Retention = retention
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// SnapshotWorker периодически удаляет снимки корзин, не обновлявшиеся дольше Retention.
type SnapshotWorker struct {
	sweeper   domain.StaleSnapshotSweeper
	logger    *log.Entry
	metrics   *metrics.CartMetrics
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewSnapshotWorker создает воркер очистки.
func NewSnapshotWorker(sweeper domain.StaleSnapshotSweeper, options ...Option) *SnapshotWorker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-snapshot-cleanup")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &SnapshotWorker{
		sweeper:   sweeper,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *SnapshotWorker) Run(ctx context.Context) {
	if w.sweeper == nil {
		w.logger.Warn("cart snapshot cleanup is disabled: sweeper is nil")
		return
	}

	w.logger.WithFields(log.Fields{
		"interval":  w.interval,
		"retention": w.retention,
	}).Info("cart snapshot cleanup started")

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *SnapshotWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteStale(ctx, w.now().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordCleanupRun(metrics.ResultError, deleted)
		w.logger.WithError(err).Warn("cart snapshot cleanup run failed")
		return
	}

	w.metrics.RecordCleanupRun(metrics.ResultOK, deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("stale cart snapshots deleted")
	}
}

// DeleteStale удаляет все снимки старше before порциями batchSize.
func (w *SnapshotWorker) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.sweeper.DeleteStale(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
