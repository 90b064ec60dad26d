package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

var errMissingEventType = errors.New("event_type is missing")

// MessageHandler обрабатывает одно сообщение; ошибка запускает повтор.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetterQueue отправляет необработанные сообщения в TopicDeadLetterQueue.
func WithDeadLetterQueue(publisher EventPublisher) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = publisher
	}
}

// WithMaxRetries задаёт число попыток обработки одного сообщения.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retryDelay = d
	}
}

// WithConsumerLogger заменяет логгер по умолчанию.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает topics через consumer group с повторами и DLQ.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        EventPublisher
	maxRetries int
	retryDelay time.Duration
	wg         sync.WaitGroup
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)

// NewConsumer подключается к brokers в группе groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне; остановка через отмену ctx и Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается после каждого rebalance.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consume session failed")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения partition по порядку. Offset отмечается после успеха
// или отправки в DLQ. Если сообщение не обработано и в DLQ не ушло, claim завершается
// без отметки, и следующая сессия группы перечитает partition с этого сообщения.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.process(ctx, message); err != nil {
				entry.WithError(err).Error("message left unprocessed, stopping claim")
				return nil
			}
			session.MarkMessage(message, "")
		}
	}
}

// process вызывает handler с повторами. Уже сделанные попытки из x-retry-count
// уменьшают остаток, но хотя бы одна попытка выполняется всегда.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	previous := retryCount(message)
	attempts := max(c.maxRetries-previous, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = c.handler(ctx, message); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		c.logger.WithError(lastErr).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": previous + attempt,
			"limit":   c.maxRetries,
		}).Warn("handler failed, retrying")
		if err := wait(ctx, c.retryDelay); err != nil {
			return err
		}
	}

	if c.dlq == nil {
		return lastErr
	}
	letter := newDeadLetter(message, lastErr, previous+attempts)
	if err := c.dlq.PublishEvent(TopicDeadLetterQueue, letter.OriginalKey, letter); err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": letter.RetryCount,
	}).Info("message moved to DLQ")
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryCount читает x-retry-count; некорректное значение считается нулём.
func retryCount(message *sarama.ConsumerMessage) int {
	raw, ok := headerValue(message, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func decode[T any](message *sarama.ConsumerMessage, what string) (*T, error) {
	var event T
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return &event, nil
}

// ParseCartEvent разбирает CartEvent.
func ParseCartEvent(message *sarama.ConsumerMessage) (*CartEvent, error) {
	return decode[CartEvent](message, "cart event")
}

// ParseCheckoutEvent разбирает CheckoutEvent.
func ParseCheckoutEvent(message *sarama.ConsumerMessage) (*CheckoutEvent, error) {
	return decode[CheckoutEvent](message, "checkout event")
}

// ParseDeadLetter разбирает сообщение из DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (*DeadLetter, error) {
	return decode[DeadLetter](message, "dead letter")
}

type eventEnvelope struct {
	EventType EventType `json:"event_type"`
}

// PeekEventType берёт тип из заголовка x-event-type,
// а без него читает только поле event_type из тела.
func PeekEventType(message *sarama.ConsumerMessage) (EventType, error) {
	if value, ok := headerValue(message, HeaderEventType); ok {
		return EventType(value), nil
	}

	envelope, err := decode[eventEnvelope](message, "event envelope")
	if err != nil {
		return "", err
	}
	if envelope.EventType == "" {
		return "", errMissingEventType
	}
	return envelope.EventType, nil
}
