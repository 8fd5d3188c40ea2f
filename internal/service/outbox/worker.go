package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Minute
)

// Metrics получает результаты публикаций и состояние backlog.
type Metrics interface {
	RecordOutboxPublish(result string)
	SetOutboxBacklog(pending int, oldestAge time.Duration)
}

// DeadLetter — payload сообщения, снятого с публикации после MaxAttempts.
// Уходит в DLQ в конверте исходного события.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher для сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithMaxAttempts задаёт число публикаций, после которого сообщение уходит в DLQ.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт паузу перед второй попыткой; дальше она удваивается.
// Ноль означает повтор на следующем опросе.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(d, 0) }
}

func WithMetrics(m Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker переносит события заказов и каталога из outbox в брокер.
// Сообщение считается отправленным только после подтверждения брокера, так
// что доставка at-least-once. Неудачная публикация не блокирует батч:
// сообщение откладывается в хранилище с экспоненциальной паузой.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   Metrics
	now       func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-relay"),
		now:            func() time.Time { return time.Now().UTC() },
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox relay is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce делает по одной попытке для каждого созревшего сообщения батча
// и возвращает число отправленных. Открытый circuit breaker прерывает батч без
// траты попыток.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog(ctx)

	due, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull due outbox messages")
		return 0
	}

	sent := 0
	for i, msg := range due {
		if ctx.Err() != nil {
			return sent
		}

		err := w.publisher.Publish(ctx, msg)
		switch {
		case err == nil:
			w.record("sent")
			if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
				// брокер уже принял сообщение: повтор даст дубль, что допустимо для at-least-once
				w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message as sent")
				continue
			}
			sent++
		case breakerRejected(err):
			w.record("breaker_open")
			w.logger.WithError(err).WithField("postponed", len(due)-i).Warn("publisher unavailable, batch postponed")
			return sent
		case ctx.Err() != nil:
			return sent
		default:
			w.handleFailure(ctx, msg, err)
		}
	}
	return sent
}

func (w *Worker) handleFailure(ctx context.Context, msg domain.OutboxMessage, publishErr error) {
	attempt := msg.Attempts + 1
	entry := w.logger.WithError(publishErr).WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
		"attempt":      attempt,
	})

	if attempt < w.maxAttempts {
		next := w.now().Add(w.backoff(attempt))
		if err := w.repo.ScheduleRetry(ctx, msg.ID, next, publishErr.Error()); err != nil {
			entry.WithField("schedule_error", err.Error()).Warn("failed to schedule outbox retry")
			return
		}
		w.record("retry")
		entry.WithField("next_attempt_at", next).Warn("outbox publish failed, retry scheduled")
		return
	}

	w.record("failed")
	entry.Error("outbox publish failed, giving up")
	if err := w.publishDeadLetter(ctx, msg, attempt, publishErr); err != nil {
		// запись остаётся pending: следующий опрос повторит и публикацию, и DLQ
		w.record("dlq_failed")
		entry.WithField("dlq_error", err.Error()).Warn("failed to publish to DLQ")
		return
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithField("mark_error", err.Error()).Warn("failed to mark outbox message as failed")
	}
}

// backoff возвращает паузу после attempt-й неудачи: base, 2*base, 4*base...
// не больше defaultRetryMaxDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < defaultRetryMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, defaultRetryMaxDelay)
}

func (w *Worker) publishDeadLetter(ctx context.Context, msg domain.OutboxMessage, attempts int, publishErr error) error {
	if w.dlq == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Attempts:      attempts,
		PublishError:  publishErr.Error(),
		FailedAt:      w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := msg
	dead.Payload = body
	return w.dlq.Publish(ctx, dead)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

func (w *Worker) record(result string) {
	if w.metrics != nil {
		w.metrics.RecordOutboxPublish(result)
	}
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
