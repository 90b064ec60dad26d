package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

var errKafkaUnavailable = errors.New("kafka producer is not connected")

// initKafkaProducer создаёт Kafka producer, если brokers не пустой.
// Без brokers возвращает nil, nil: корзина работает без публикации событий.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// kafkaChecker сообщает degraded, если brokers заданы, а producer не поднялся.
func kafkaChecker(brokers []string, producer *kafka.Producer) healthcheck.Checker {
	return healthcheck.NewSimpleChecker("kafka", func(context.Context) error {
		if len(brokers) > 0 && producer == nil {
			return errKafkaUnavailable
		}
		return nil
	}, healthcheck.Optional())
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
