package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// EventPublisher пишет событие в топик. Его реализует Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error
}

// OutboxTopicPublisher отправляет outbox-сообщения в Kafka в формате Envelope.
type OutboxTopicPublisher struct {
	events EventPublisher
	route  func(aggregateType string) string
}

// NewOutboxPublisher: пустой topic маршрутизирует сообщения по типу
// агрегата через TopicFor, иначе всё уходит в topic.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	var events EventPublisher
	if producer != nil {
		events = producer
	}
	return newOutboxPublisher(events, topic)
}

func newOutboxPublisher(events EventPublisher, topic string) *OutboxTopicPublisher {
	route := TopicFor
	if topic != "" {
		route = func(string) string { return topic }
	}
	return &OutboxTopicPublisher{events: events, route: route}
}

// Publish ключует сообщение по агрегату, чтобы события одного заказа
// попадали в одну партицию.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.events == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized: %w", domain.ErrOutboxPublish)
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	headers := map[string]string{HeaderEventType: msg.EventType}
	return p.events.PublishEvent(ctx, p.route(msg.AggregateType), key, NewEnvelope(msg), headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
