package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type countingPublisher struct {
	calls int
	err   error
}

func (p *countingPublisher) Publish(context.Context, domain.OutboxMessage) error {
	p.calls++
	return p.err
}

func TestBreakerPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &countingPublisher{err: errors.New("broker down")}
	publisher := NewBreakerPublisher(next, BreakerSettings{
		Name:                "test",
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	}, nil)

	ctx := context.Background()
	require.Error(t, publisher.Publish(ctx, domain.OutboxMessage{ID: "1"}))
	require.Error(t, publisher.Publish(ctx, domain.OutboxMessage{ID: "2"}))
	require.Equal(t, gobreaker.StateOpen, publisher.State())

	err := publisher.Publish(ctx, domain.OutboxMessage{ID: "3"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 2, next.calls)
}

func TestBreakerPublisher_PassesThroughOnSuccess(t *testing.T) {
	next := &countingPublisher{}
	publisher := NewBreakerPublisher(next, DefaultBreakerSettings(), nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{}))
	}
	require.Equal(t, 10, next.calls)
	require.Equal(t, gobreaker.StateClosed, publisher.State())
}
