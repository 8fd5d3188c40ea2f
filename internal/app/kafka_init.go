package app

import (
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

const catalogConsumerMaxAttempts = 3

// messaging объединяет producer, relay-publisher и consumer событий каталога.
type messaging struct {
	producer  *kafka.Producer
	publisher *kafka.BreakerPublisher
	dlq       *kafka.OutboxTopicPublisher
	consumer  *kafka.Consumer
}

func parseBrokers(brokers string) []string {
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := parseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initMessaging собирает relay-publisher с circuit breaker и consumer цен.
// Без брокеров возвращает nil: outbox копится до появления Kafka.
func initMessaging(cfg Config, applier kafka.PriceApplier, logger *log.Entry) *messaging {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		return nil
	}

	settings := kafka.DefaultBreakerSettings()
	if cfg.BreakerFailures > 0 {
		settings.ConsecutiveFailures = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerOpenTimeout > 0 {
		settings.OpenTimeout = cfg.BreakerOpenTimeout
	}

	m := &messaging{
		producer:  producer,
		publisher: kafka.NewBreakerPublisher(kafka.NewOutboxPublisher(producer, ""), settings, logger.WithField("component", "kafka-breaker")),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}

	consumer, err := kafka.NewConsumer(
		parseBrokers(cfg.KafkaBrokers),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicCatalogEvents},
		kafka.PriceChangeHandler(applier, logger.WithField("component", "catalog-consumer")),
		kafka.WithDeadLetter(producer),
		kafka.WithMaxAttempts(catalogConsumerMaxAttempts),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create catalog consumer, price changes are applied synchronously only")
	} else {
		m.consumer = consumer
	}
	return m
}

// breakerHealth сообщает о недоступности брокера, пока breaker открыт.
func (m *messaging) breakerHealth() error {
	if m == nil || m.publisher == nil {
		return nil
	}
	if m.publisher.State() == gobreaker.StateOpen {
		return errors.New("kafka circuit breaker is open")
	}
	return nil
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
