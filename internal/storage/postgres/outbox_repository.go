package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxPullLimit = 100
)

// outboxRepository работает через querier: внутри транзакции заказа запись
// события коммитится вместе с ним, relay ходит напрямую в пул.
type outboxRepository struct {
	q querier
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Attempts = 0

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, msg.CreatedAt, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s/%s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, attempt_count
		FROM outbox_messages
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY created_at, id
		LIMIT $3
	`, outboxPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("pull due outbox messages: %w", err)
	}
	defer rows.Close()

	var due []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.CreatedAt, &m.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		due = append(due, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pull due outbox messages: %w", err)
	}
	return due, nil
}

// Stats считает все ожидающие сообщения, включая отложенные до следующей попытки.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`,
		outboxPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.update(ctx, id, `
		UPDATE outbox_messages
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, outboxSent, time.Now().UTC())
}

func (r *outboxRepository) ScheduleRetry(ctx context.Context, id string, at time.Time, lastErr string) error {
	return r.update(ctx, id, `
		UPDATE outbox_messages
		SET attempt_count = attempt_count + 1, next_attempt_at = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, at.UTC(), lastErr, time.Now().UTC())
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.update(ctx, id, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, outboxFailed, time.Now().UTC())
}

// update применяет переход к ожидающему сообщению. Отсутствие строки значит,
// что сообщения нет или оно уже снято с публикации.
func (r *outboxRepository) update(ctx context.Context, id, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update outbox message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update outbox message %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("outbox message %s is not pending: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
