package kafka

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultNotifierBuffer = 256

// EventNotifier транслирует уведомления корзины в Kafka.
// Публикация идёт из отдельной горутины Run, поэтому Success/Info не блокируют операции корзины;
// при переполнении буфера событие отбрасывается.
type EventNotifier struct {
	publisher EventPublisher
	topic     string
	events    chan *CartEvent
	logger    *log.Entry
	dropped   atomic.Int64
}

// NewEventNotifier создаёт notifier. Пустой topic заменяется TopicCartEvents.
func NewEventNotifier(publisher EventPublisher, topic string, buffer int, logger *log.Entry) *EventNotifier {
	if topic == "" {
		topic = TopicCartEvents
	}
	if buffer <= 0 {
		buffer = defaultNotifierBuffer
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-event-notifier")
	}
	return &EventNotifier{
		publisher: publisher,
		topic:     topic,
		events:    make(chan *CartEvent, buffer),
		logger:    logger,
	}
}

// ForSession возвращает domain.Notifier, помечающий события идентификатором сессии.
func (n *EventNotifier) ForSession(sessionID string) domain.Notifier {
	return &sessionNotifier{parent: n, sessionID: sessionID}
}

// Dropped возвращает число событий, отброшенных из-за переполнения буфера.
func (n *EventNotifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *EventNotifier) enqueue(event *CartEvent) {
	select {
	case n.events <- event:
	default:
		n.dropped.Add(1)
		n.logger.WithFields(log.Fields{
			"session_id": event.SessionID,
			"kind":       event.Kind,
		}).Warn("cart event buffer is full, event dropped")
	}
}

// Run публикует накопленные события до отмены ctx, затем дописывает остаток буфера.
func (n *EventNotifier) Run(ctx context.Context) {
	n.logger.WithField("topic", n.topic).Info("cart event notifier started")
	for {
		select {
		case <-ctx.Done():
			n.flush()
			n.logger.Info("cart event notifier stopped")
			return
		case event := <-n.events:
			n.publish(event)
		}
	}
}

func (n *EventNotifier) flush() {
	for {
		select {
		case event := <-n.events:
			n.publish(event)
		default:
			return
		}
	}
}

func (n *EventNotifier) publish(event *CartEvent) {
	if err := n.publisher.PublishEvent(n.topic, event.SessionID, event); err != nil {
		n.logger.WithError(err).WithField("event_id", event.EventID).Warn("failed to publish cart event")
	}
}

type sessionNotifier struct {
	parent    *EventNotifier
	sessionID string
}

func (s *sessionNotifier) Success(message string) {
	s.parent.enqueue(NewCartEvent(s.sessionID, "success", message))
}

func (s *sessionNotifier) Info(message string) {
	s.parent.enqueue(NewCartEvent(s.sessionID, "info", message))
}

var _ domain.Notifier = (*sessionNotifier)(nil)
