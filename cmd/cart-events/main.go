package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const defaultGroupID = "storefront-cart-events"

var errUnknownEventType = errors.New("unknown event type")

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.WithError(err).Fatal("cart-events завершился с ошибкой")
	}
}

// newApp описывает CLI, который читает события корзины из Kafka и пишет их в лог.
func newApp() *cli.App {
	return &cli.App{
		Name:  "cart-events",
		Usage: "tail storefront cart events from kafka",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "brokers",
				Usage:   "comma separated kafka brokers",
				EnvVars: []string{"STOREFRONT_KAFKA_BROKERS"},
			},
			&cli.StringFlag{
				Name:    "topic",
				Usage:   "topic with cart events",
				EnvVars: []string{"STOREFRONT_KAFKA_TOPIC"},
				Value:   kafka.TopicCartEvents,
			},
			&cli.StringFlag{
				Name:  "group",
				Usage: "consumer group id",
				Value: defaultGroupID,
			},
			&cli.BoolFlag{
				Name:  "dlq",
				Usage: "send unprocessable messages to " + kafka.TopicDeadLetterQueue,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "processing attempts before a message is dead-lettered",
				Value: 3,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "logrus level",
				Value: log.InfoLevel.String(),
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	brokers := splitBrokers(c.String("brokers"))
	if len(brokers) == 0 {
		return errors.New("STOREFRONT_KAFKA_BROKERS (or --brokers) is required")
	}

	logger := log.WithField("component", "cart-events")

	var dlq *kafka.Producer
	if c.Bool("dlq") {
		dlq, err = kafka.NewProducer(brokers)
		if err != nil {
			return fmt.Errorf("create dlq producer: %w", err)
		}
		defer func() {
			if err := dlq.Close(); err != nil {
				logger.WithError(err).Warn("failed to close dlq producer")
			}
		}()
	}

	opts := []kafka.ConsumerOption{
		kafka.WithMaxRetries(c.Int("max-retries")),
		kafka.WithConsumerLogger(logger),
	}
	if dlq != nil {
		opts = append(opts, kafka.WithDeadLetterQueue(dlq))
	}
	consumer, err := kafka.NewConsumer(
		brokers,
		c.String("group"),
		[]string{c.String("topic")},
		newHandler(logger),
		opts...,
	)
	if err != nil {
		return err
	}

	if err := consumer.Start(c.Context); err != nil {
		return err
	}
	<-c.Context.Done()
	return consumer.Stop()
}

// newHandler разбирает событие по event_type и пишет его поля в лог.
func newHandler(logger *log.Entry) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		eventType, err := kafka.PeekEventType(message)
		if err != nil {
			return err
		}

		switch eventType {
		case kafka.EventTypeCartNotification:
			event, err := kafka.ParseCartEvent(message)
			if err != nil {
				return err
			}
			logger.WithFields(log.Fields{
				"event_id":   event.EventID,
				"session_id": event.SessionID,
				"kind":       event.Kind,
				"at":         event.Timestamp,
			}).Info(event.Message)
		case kafka.EventTypeCheckoutSubmitted:
			event, err := kafka.ParseCheckoutEvent(message)
			if err != nil {
				return err
			}
			logger.WithFields(log.Fields{
				"event_id":       event.EventID,
				"session_id":     event.SessionID,
				"total_quantity": event.TotalQuantity,
				"total_price":    event.TotalPrice,
				"delivery":       event.Delivery,
				"payment":        event.Payment,
				"at":             event.Timestamp,
			}).Info("checkout submitted")
		case kafka.EventTypeDeadLetter:
			letter, err := kafka.ParseDeadLetter(message)
			if err != nil {
				return err
			}
			logger.WithFields(log.Fields{
				"original_topic":  letter.OriginalTopic,
				"original_offset": letter.OriginalOffset,
				"original_type":   letter.OriginalType,
				"retry_count":     letter.RetryCount,
				"failed_at":       letter.FailedAt,
			}).Warn(letter.ErrorMessage)
		default:
			return fmt.Errorf("%w: %s", errUnknownEventType, eventType)
		}
		return nil
	}
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
