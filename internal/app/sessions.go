package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
)

// newStoreFactory собирает Store сессии: снимок под собственным ключом,
// уведомления в ленту сессии, в лог и (если настроено) в Kafka.
func newStoreFactory(
	slot domain.SnapshotSlot,
	baseKey string,
	events *kafka.EventNotifier,
	cartMetrics *metrics.CartMetrics,
	logger *log.Entry,
) cart.StoreFactory {
	return func(sessionID string, feed domain.Notifier) *cart.Store {
		sessionLogger := logger.WithField("session_id", sessionID)

		notifiers := []domain.Notifier{feed, notify.NewLogNotifier(sessionLogger.WithField("component", "cart-notifier"))}
		if events != nil {
			notifiers = append(notifiers, events.ForSession(sessionID))
		}

		adapter := cart.NewAdapter(
			slot,
			cart.SessionStorageKey(baseKey, sessionID),
			cart.WithAdapterLogger(sessionLogger.WithField("component", "cart-persistence")),
			cart.WithAdapterMetrics(cartMetrics),
		)

		return cart.NewStore(
			adapter,
			notify.Combine(notifiers...),
			cart.WithLogger(sessionLogger.WithField("component", "cart-store")),
			cart.WithMetrics(cartMetrics),
		)
	}
}
