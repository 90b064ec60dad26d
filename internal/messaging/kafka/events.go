package kafka

import (
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип события
type EventType string

const (
	// События корзины
	EventTypeCartNotification  EventType = "cart.notification"
	EventTypeCheckoutSubmitted EventType = "cart.checkout_submitted"
	EventTypeDeadLetter        EventType = "cart.dead_letter"
)

// Topics для Kafka
const (
	TopicCartEvents      = "storefront.cart.events"
	TopicDeadLetterQueue = "storefront.cart.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// CartEvent — уведомление корзины, опубликованное для внешних подписчиков
type CartEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutEvent фиксирует оформление заказа из корзины
type CheckoutEvent struct {
	EventID       string                 `json:"event_id"`
	EventType     EventType              `json:"event_type"`
	SessionID     string                 `json:"session_id"`
	TotalQuantity int64                  `json:"total_quantity"`
	TotalPrice    int64                  `json:"total_price"`
	Delivery      string                 `json:"delivery"`
	Payment       string                 `json:"payment"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewCartEvent создает событие уведомления корзины
func NewCartEvent(sessionID, kind, message string) *CartEvent {
	return &CartEvent{
		EventID:   uuid.NewString(),
		EventType: EventTypeCartNotification,
		SessionID: sessionID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewCheckoutEvent создает событие оформления заказа
func NewCheckoutEvent(sessionID string, totalQuantity, totalPrice int64, delivery, payment string, metadata map[string]interface{}) *CheckoutEvent {
	return &CheckoutEvent{
		EventID:       uuid.NewString(),
		EventType:     EventTypeCheckoutSubmitted,
		SessionID:     sessionID,
		TotalQuantity: totalQuantity,
		TotalPrice:    totalPrice,
		Delivery:      delivery,
		Payment:       payment,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}
}

// Type возвращает тип события для заголовка сообщения.
func (e *CartEvent) Type() EventType { return e.EventType }

// Type возвращает тип события для заголовка сообщения.
func (e *CheckoutEvent) Type() EventType { return e.EventType }
