package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

const defaultOutboxPullLimit = 100

type outboxRecord struct {
	msg         domain.OutboxMessage
	state       outboxState
	nextAttempt time.Time
	lastError   string
}

// outboxRepository видит копию состояния транзакции.
type outboxRepository struct {
	tx *memTx
}

func (r outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := r.tx.checkWritable(); err != nil {
		return domain.OutboxMessage{}, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Attempts = 0
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.tx.st.outbox[msg.ID] = outboxRecord{msg: msg, nextAttempt: msg.CreatedAt}
	return msg, nil
}

func (r outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}
	now := time.Now().UTC()

	var due []domain.OutboxMessage
	for _, rec := range r.tx.st.outbox {
		if rec.state == outboxPending && !rec.nextAttempt.After(now) {
			m := rec.msg
			m.Payload = append([]byte(nil), m.Payload...)
			due = append(due, m)
		}
	}
	slices.SortFunc(due, func(a, b domain.OutboxMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	for _, rec := range r.tx.st.outbox {
		if rec.state != outboxPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
	}
	return stats, nil
}

func (r outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, func(rec *outboxRecord) {
		rec.state = outboxSent
	})
}

func (r outboxRepository) ScheduleRetry(_ context.Context, id string, at time.Time, lastErr string) error {
	return r.transition(id, func(rec *outboxRecord) {
		rec.msg.Attempts++
		rec.nextAttempt = at.UTC()
		rec.lastError = lastErr
	})
}

func (r outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.transition(id, func(rec *outboxRecord) {
		rec.msg.Attempts++
		rec.state = outboxFailed
	})
}

// transition меняет только ожидающее сообщение.
func (r outboxRepository) transition(id string, apply func(*outboxRecord)) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}
	rec, ok := r.tx.st.outbox[id]
	if !ok || rec.state != outboxPending {
		return fmt.Errorf("outbox message %s is not pending: %w", id, domain.ErrOutboxPublish)
	}
	apply(&rec)
	r.tx.st.outbox[id] = rec
	return nil
}

// storeOutbox открывает короткую транзакцию на каждый вызов relay-воркера.
type storeOutbox struct {
	store *Store
}

func (o *storeOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (saved domain.OutboxMessage, err error) {
	err = o.store.Do(ctx, func(tx domain.Tx) error {
		saved, err = tx.Outbox().Enqueue(ctx, msg)
		return err
	})
	return saved, err
}

func (o *storeOutbox) PullPending(ctx context.Context, limit int) (due []domain.OutboxMessage, err error) {
	err = o.store.View(ctx, func(tx domain.Tx) error {
		due, err = tx.Outbox().PullPending(ctx, limit)
		return err
	})
	return due, err
}

func (o *storeOutbox) Stats(ctx context.Context) (stats domain.OutboxStats, err error) {
	err = o.store.View(ctx, func(tx domain.Tx) error {
		stats, err = tx.Outbox().Stats(ctx)
		return err
	})
	return stats, err
}

func (o *storeOutbox) MarkSent(ctx context.Context, id string) error {
	return o.store.Do(ctx, func(tx domain.Tx) error { return tx.Outbox().MarkSent(ctx, id) })
}

func (o *storeOutbox) ScheduleRetry(ctx context.Context, id string, at time.Time, lastErr string) error {
	return o.store.Do(ctx, func(tx domain.Tx) error { return tx.Outbox().ScheduleRetry(ctx, id, at, lastErr) })
}

func (o *storeOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.store.Do(ctx, func(tx domain.Tx) error { return tx.Outbox().MarkFailed(ctx, id) })
}

var (
	_ domain.OutboxRepository = outboxRepository{}
	_ domain.OutboxRepository = (*storeOutbox)(nil)
)
