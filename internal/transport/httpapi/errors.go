package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	CodeValidation             = 1001
	CodeProductNotFound        = 1306
	CodeUnauthenticated        = 1401
	CodeUserNotFound           = 1406
	CodeUserDeactivated        = 1408
	CodeIdempotencyProcessing  = 1409
	CodeIdempotencyMismatch    = 1422
	CodeContention             = 1503
	CodeInternal               = 1500
	CodeOrderNotFound          = 1603
	CodeInvalidOrderStatus     = 1605
	CodeEmptyCart              = 1606
	CodeCannotModifyOrder      = 1607
	CodeInvalidStateTransition = 1608
	CodeInvalidActiveStatus    = 1609
	CodeCapacityExceeded       = 1801
	CodeCartLineNotFound       = 1802
	CodeInvalidProduct         = 1803
	CodeForbidden              = 1902
	CodeNotFound               = 1404
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// errorStatus сопоставляет доменную ошибку HTTP-статусу и коду. Более
// конкретные ошибки проверяются раньше категорий, которые они оборачивают.
func errorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, CodeOrderNotFound
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, CodeUserNotFound
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, CodeProductNotFound
	case errors.Is(err, domain.ErrCartLineNotFound):
		return http.StatusNotFound, CodeCartLineNotFound
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrUserDeactivated):
		return http.StatusForbidden, CodeUserDeactivated
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, domain.ErrInvalidProduct):
		return http.StatusBadRequest, CodeInvalidProduct
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusBadRequest, CodeCapacityExceeded
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, CodeEmptyCart
	case errors.Is(err, domain.ErrInvalidOrderStatus):
		return http.StatusBadRequest, CodeInvalidOrderStatus
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusBadRequest, CodeInvalidStateTransition
	case errors.Is(err, domain.ErrCannotModifyOrder):
		return http.StatusBadRequest, CodeCannotModifyOrder
	case errors.Is(err, domain.ErrInvalidActiveStatus):
		return http.StatusBadRequest, CodeInvalidActiveStatus
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, domain.ErrContention), domain.IsRetryableConflict(err):
		return http.StatusServiceUnavailable, CodeContention
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status, code int, message string) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// writeError пишет ответ по доменной ошибке. Внутренние ошибки логируются,
// клиент получает обезличенное сообщение.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		message = "internal server error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	respondError(w, status, code, message)
}
