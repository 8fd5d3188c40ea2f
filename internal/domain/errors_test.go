package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictPredicates(t *testing.T) {
	type verdict struct{ version, retryable, idempotency bool }

	tests := []struct {
		name string
		err  error
		want verdict
	}{
		{"version conflict", ErrOrderVersionConflict, verdict{version: true, retryable: true}},
		{"joined version conflict", errors.Join(ErrOrderVersionConflict, errors.New("context")), verdict{version: true, retryable: true}},
		{"stock conflict", ErrStockConflict, verdict{retryable: true}},
		{"wrapped tx conflict", fmt.Errorf("commit: %w", ErrTxConflict), verdict{retryable: true}},
		{"retries exhausted", ErrContention, verdict{}},
		{"capacity exceeded", ErrCapacityExceeded, verdict{}},
		{"key already exists", ErrIdempotencyKeyAlreadyExists, verdict{idempotency: true}},
		{"joined hash mismatch", errors.Join(ErrIdempotencyHashMismatch, errors.New("context")), verdict{idempotency: true}},
		{"key not found", ErrIdempotencyKeyNotFound, verdict{}},
		{"not found", ErrOrderNotFound, verdict{}},
		{"nil", nil, verdict{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := verdict{
				version:     IsVersionConflict(tt.err),
				retryable:   IsRetryableConflict(tt.err),
				idempotency: IsIdempotencyConflict(tt.err),
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	kinds := map[error][]error{
		ErrNotFound:   {ErrUserNotFound, ErrProductNotFound, ErrCartLineNotFound, ErrOrderNotFound},
		ErrForbidden:  {ErrUserDeactivated},
		ErrValidation: {ErrInvalidQuantity, ErrInvalidShippingInfo, ErrInvalidShippingDate, ErrInvalidProductData},
	}

	for kind, members := range kinds {
		for _, err := range members {
			assert.ErrorIs(t, err, kind)
			for other := range kinds {
				if other != kind {
					assert.NotErrorIs(t, err, other)
				}
			}
		}
	}

	assert.EqualError(t, ErrOrderNotFound, "order not found")
	assert.EqualError(t, ErrUserDeactivated, "user is deactivated: forbidden")
}
