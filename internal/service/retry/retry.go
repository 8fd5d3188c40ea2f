package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Config конфигурация повторов единицы работы.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию: три попытки, база 10ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// Retrier повторяет операцию целиком, пока хранилище сообщает о конкурентном конфликте.
type Retrier struct {
	config  Config
	logger  *log.Entry
	onRetry func(operation string)
}

// New создаёт Retrier. onRetry вызывается перед каждой повторной попыткой и может быть nil.
func New(config Config, logger *log.Entry, onRetry func(operation string)) *Retrier {
	if logger == nil {
		logger = log.New().WithField("component", "retry")
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Retrier{config: config, logger: logger, onRetry: onRetry}
}

// Do выполняет fn. Ошибки, не являющиеся конфликтом, возвращаются как есть.
// Если конфликт не разрешился за MaxAttempts, возвращается domain.ErrContention.
func (r *Retrier) Do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}
		if !domain.IsRetryableConflict(err) {
			return err
		}
		lastErr = err

		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("concurrent modification, retrying")
		if r.onRetry != nil {
			r.onRetry(operation)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	r.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": r.config.MaxAttempts,
		"error":        lastErr,
	}).Error("operation failed after all retry attempts")

	return fmt.Errorf("%s: %w: %v", operation, domain.ErrContention, lastErr)
}
