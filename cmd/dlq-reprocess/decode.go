package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
)

var errNotDeadLetter = errors.New("record is not a dead letter")

type replayMessage struct {
	topic     string
	key       string
	eventType string
	value     []byte
}

// decodeDeadLetter восстанавливает исходное событие из записи DLQ. В DLQ
// пишут двое: consumer каталога (kafka.DeadLetter с исходным сообщением как
// есть) и outbox relay (конверт, в Payload которого лежит outbox.DeadLetter).
func decodeDeadLetter(msg *sarama.ConsumerMessage, target string) (replayMessage, error) {
	var consumed kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &consumed); err == nil && consumed.OriginalValue != "" {
		return fromConsumerRecord(msg, consumed, target), nil
	}

	env, err := kafka.ParseEnvelope(msg)
	if err != nil || len(env.Payload) == 0 {
		return replayMessage{}, errNotDeadLetter
	}
	var dead outbox.DeadLetter
	if err := json.Unmarshal(env.Payload, &dead); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dead letter has no event payload")
	}
	return fromOutboxRecord(env, dead, target)
}

func fromConsumerRecord(msg *sarama.ConsumerMessage, rec kafka.DeadLetter, target string) replayMessage {
	topic := firstNonEmpty(target, rec.OriginalTopic, headerValue(msg, kafka.HeaderOriginalTopic), kafka.TopicCatalogEvents)

	var original kafka.Envelope
	eventType := ""
	if json.Unmarshal([]byte(rec.OriginalValue), &original) == nil {
		eventType = original.EventType
	}
	return replayMessage{
		topic:     strings.TrimSpace(topic),
		key:       rec.OriginalKey,
		eventType: eventType,
		value:     []byte(rec.OriginalValue),
	}
}

// fromOutboxRecord собирает конверт заново, как его опубликовал бы relay.
func fromOutboxRecord(env kafka.Envelope, dead outbox.DeadLetter, target string) (replayMessage, error) {
	replay := kafka.Envelope{
		ID:            firstNonEmpty(dead.OutboxID, env.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, env.EventType),
		Payload:       dead.Payload,
		OccurredAt:    env.OccurredAt,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic:     firstNonEmpty(target, kafka.TopicFor(replay.AggregateType)),
		key:       firstNonEmpty(replay.AggregateID, replay.ID),
		eventType: replay.EventType,
		value:     value,
	}, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
