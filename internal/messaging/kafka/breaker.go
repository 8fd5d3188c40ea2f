package kafka

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// BreakerSettings задаёт параметры circuit breaker вокруг брокера.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerSettings возвращает настройки по умолчанию.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "kafka-outbox",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerPublisher пропускает публикацию через circuit breaker. Пока брокер
// недоступен, вызовы сразу возвращают gobreaker.ErrOpenState.
type BreakerPublisher struct {
	next    domain.OutboxPublisher
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher оборачивает next.
func NewBreakerPublisher(next domain.OutboxPublisher, settings BreakerSettings, logger *log.Entry) *BreakerPublisher {
	if logger == nil {
		logger = log.WithField("component", "kafka-breaker")
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	threshold := settings.ConsecutiveFailures

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &BreakerPublisher{next: next, breaker: breaker}
}

func (p *BreakerPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, event)
	})
	return err
}

// State возвращает текущее состояние breaker.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}

var _ domain.OutboxPublisher = (*BreakerPublisher)(nil)
