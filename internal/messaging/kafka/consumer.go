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

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
)

const (
	defaultConsumerAttempts   = 3
	defaultConsumerRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение топика.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// permanentError помечает сообщение, повтор которого ничего не изменит.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent оборачивает ошибку обработчика: сообщение уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// DeadLetter — запись DLQ о сообщении, которое consumer не смог обработать.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	Attempts          int       `json:"retry_count"`
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter включает отправку необработанных сообщений в TopicDeadLetterQueue.
func WithDeadLetter(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = producer }
}

// WithMaxAttempts ограничивает число попыток обработки, включая попытки
// предыдущих доставок из заголовка x-retry-count.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает топики магазина через consumer group. Offset сообщения
// фиксируется после успешной обработки или после записи в DLQ.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	deadLetter  *Producer
	maxAttempts int
	retryDelay  time.Duration
	wg          sync.WaitGroup
}

// NewConsumer подключается к consumer group groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = "shop-service"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		maxAttempts: defaultConsumerAttempts,
		retryDelay:  defaultConsumerRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращает управление.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume завершается на каждом rebalance
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
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
			if err := c.process(ctx, msg); err != nil {
				// offset не фиксируется: сообщение придёт снова после rebalance
				entry.WithError(err).Error("message left unprocessed")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process обрабатывает сообщение с повторами. nil означает, что offset можно
// фиксировать: сообщение обработано или сохранено в DLQ.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	prior := priorAttempts(msg)
	budget := max(c.maxAttempts-prior, 1)

	var err error
	attempts := 0
	for attempts < budget {
		attempts++
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		if isPermanent(err) || attempts == budget {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   msg.Topic,
			"attempt": prior + attempts,
		}).Warn("message handling failed, retrying")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	if c.deadLetter == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, msg, err, prior+attempts); dlqErr != nil {
		return fmt.Errorf("send to DLQ: %w (handler: %v)", dlqErr, err)
	}
	c.logger.WithError(err).WithFields(log.Fields{
		"topic":    msg.Topic,
		"attempts": prior + attempts,
	}).Warn("message moved to DLQ")
	return nil
}

func priorAttempts(msg *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(headerValue(msg, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (c *Consumer) sendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC()
	record := DeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		Attempts:          attempts,
	}
	return c.deadLetter.PublishEvent(ctx, TopicDeadLetterQueue, string(msg.Key), record, map[string]string{
		HeaderOriginalTopic: msg.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
}

// PriceApplier переносит новую цену товара в корзины.
type PriceApplier interface {
	ApplyPriceChange(ctx context.Context, change catalog.PriceChange) error
}

// PriceChangeHandler применяет ProductPriceChanged к корзинам. Остальные
// события каталога подтверждаются без обработки, нечитаемые уходят в DLQ сразу.
func PriceChangeHandler(applier PriceApplier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "catalog-consumer")
	}
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		env, err := ParseEnvelope(msg)
		if err != nil {
			return Permanent(err)
		}
		if env.EventType != domain.EventProductPriceChanged {
			logger.WithField("event_type", env.EventType).Debug("skip catalog event")
			return nil
		}

		var change catalog.PriceChange
		if err := json.Unmarshal(env.Payload, &change); err != nil {
			return Permanent(fmt.Errorf("decode price change of %s: %w", env.AggregateID, err))
		}
		if change.ProductID == "" {
			change.ProductID = env.AggregateID
		}
		return applier.ApplyPriceChange(ctx, change)
	}
}
