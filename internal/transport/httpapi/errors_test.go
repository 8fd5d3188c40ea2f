package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   int
	}{
		{domain.ErrOrderNotFound, http.StatusNotFound, CodeOrderNotFound},
		{fmt.Errorf("load: %w", domain.ErrUserNotFound), http.StatusNotFound, CodeUserNotFound},
		{domain.ErrProductNotFound, http.StatusNotFound, CodeProductNotFound},
		{domain.ErrCartLineNotFound, http.StatusNotFound, CodeCartLineNotFound},
		{domain.ErrUserDeactivated, http.StatusForbidden, CodeUserDeactivated},
		{domain.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{domain.ErrInvalidProduct, http.StatusBadRequest, CodeInvalidProduct},
		{domain.ErrCapacityExceeded, http.StatusBadRequest, CodeCapacityExceeded},
		{domain.ErrEmptyCart, http.StatusBadRequest, CodeEmptyCart},
		{domain.ErrInvalidOrderStatus, http.StatusBadRequest, CodeInvalidOrderStatus},
		{domain.ErrInvalidStateTransition, http.StatusBadRequest, CodeInvalidStateTransition},
		{domain.ErrCannotModifyOrder, http.StatusBadRequest, CodeCannotModifyOrder},
		{domain.ErrInvalidActiveStatus, http.StatusBadRequest, CodeInvalidActiveStatus},
		{domain.ErrInvalidShippingInfo, http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("create_order: %w: %v", domain.ErrContention, domain.ErrStockConflict), http.StatusServiceUnavailable, CodeContention},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := errorStatus(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Fatalf("errorStatus(%v) = (%d, %d), want (%d, %d)", tt.err, status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
