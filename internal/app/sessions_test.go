package app

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type capturedEvents struct {
	mu     sync.Mutex
	topics []string
	events []*kafka.CartEvent
}

func (c *capturedEvents) PublishEvent(topic string, _ string, event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.events = append(c.events, event.(*kafka.CartEvent))
	return nil
}

func TestStoreFactory_SessionsUseOwnSnapshotKeys(t *testing.T) {
	slot := memory.NewSnapshotSlot()
	cartMetrics := metrics.NewCartMetricsWithRegisterer(prometheus.NewRegistry())
	factory := newStoreFactory(slot, "promo-team-cart", nil, cartMetrics, log.WithField("test", "factory"))

	feed := notify.NewFeed(0)
	store := factory("alpha", feed)
	store.AddItem(domain.ProductInput{ProductID: "tee", Name: "Футболка", Price: 1500, Color: "black", Size: "M"})

	_, err := slot.Get(context.Background(), "promo-team-cart:alpha")
	require.NoError(t, err, "snapshot must be written under the session key")

	toasts := feed.Drain()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.KindSuccess, toasts[0].Kind)
	assert.Equal(t, "Футболка добавлен в корзину", toasts[0].Message)

	restored := factory("alpha", notify.NewFeed(0))
	assert.Equal(t, int64(1), restored.Cart().TotalQuantity)

	other := factory("beta", notify.NewFeed(0))
	assert.Empty(t, other.Cart().Items)
}

func TestStoreFactory_PublishesNotificationsToKafka(t *testing.T) {
	publisher := &capturedEvents{}
	events := kafka.NewEventNotifier(publisher, "storefront.cart.events", 8, log.WithField("test", "events"))
	factory := newStoreFactory(memory.NewSnapshotSlot(), "", events, nil, log.WithField("test", "factory"))

	store := factory("alpha", notify.NewFeed(0))
	store.AddItem(domain.ProductInput{ProductID: "cap", Name: "Кепка", Price: 900, Color: "red", Size: "one"})
	store.ClearCart()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events.Run(ctx)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.events, 2)
	assert.Equal(t, []string{"storefront.cart.events", "storefront.cart.events"}, publisher.topics)
	assert.Equal(t, "alpha", publisher.events[0].SessionID)
	assert.Equal(t, "Кепка добавлен в корзину", publisher.events[0].Message)
	assert.Equal(t, "Корзина очищена", publisher.events[1].Message)
}

func TestStoreFactory_WorksWithRegistry(t *testing.T) {
	factory := newStoreFactory(memory.NewSnapshotSlot(), cart.DefaultStorageKey, nil, nil, log.WithField("test", "registry"))
	registry := cart.NewRegistry(factory)

	toasts := registry.Get("alpha").Do(func(store *cart.Store) {
		store.AddItem(domain.ProductInput{ProductID: "tee", Name: "Футболка", Price: 1500})
	})

	require.Len(t, toasts, 1)
	assert.Equal(t, 1, registry.Len())
}
