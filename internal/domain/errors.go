package domain

import (
	"errors"
	"fmt"
)

// Категории ошибок, которые видит внешний слой. Конкретные ошибки ниже
// оборачивают одну из них, поэтому errors.Is(err, ErrNotFound) срабатывает
// для любого "не найдено".
var (
	// ErrNotFound запрошенный пользователь/товар/строка корзины/заказ не существует.
	ErrNotFound = errors.New("not found")
	// ErrForbidden пользователь деактивирован или не владеет ресурсом и не является админом.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidProduct товар неактивен на момент проверки.
	ErrInvalidProduct = errors.New("product is not available")
	// ErrCapacityExceeded запрошенное количество превышает остаток на складе.
	ErrCapacityExceeded = errors.New("requested quantity exceeds available stock")
	// ErrEmptyCart попытка оформить заказ из пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidOrderStatus неизвестное имя статуса.
	ErrInvalidOrderStatus = errors.New("invalid order status")
	// ErrInvalidStateTransition переход статуса запрещён для роли.
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	// ErrCannotModifyOrder правка логистики вне разрешённой комбинации статуса/роли/полей.
	ErrCannotModifyOrder = errors.New("order cannot be modified")
	// ErrInvalidActiveStatus флаг активности можно менять только у доставленного заказа.
	ErrInvalidActiveStatus = errors.New("active flag can only be toggled on delivered orders")
	// ErrValidation некорректные входные данные запроса.
	ErrValidation = errors.New("validation failed")
)

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCartLineNotFound возвращается, если строка корзины не найдена.
	ErrCartLineNotFound = fmt.Errorf("cart line %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrUserDeactivated пользователь деактивирован.
	ErrUserDeactivated = fmt.Errorf("user is deactivated: %w", ErrForbidden)
	// ErrInvalidQuantity количество в корзине должно быть не меньше единицы.
	ErrInvalidQuantity = fmt.Errorf("quantity must be at least 1: %w", ErrValidation)
	// ErrInvalidShippingInfo не заполнены контактные данные заказа.
	ErrInvalidShippingInfo = fmt.Errorf("invalid shipping info: %w", ErrValidation)
	// ErrInvalidShippingDate дата доставки не может быть в прошлом.
	ErrInvalidShippingDate = fmt.Errorf("shipping date must not be in the past: %w", ErrValidation)
	// ErrInvalidProductData некорректные данные товара при загрузке каталога.
	ErrInvalidProductData = fmt.Errorf("invalid product data: %w", ErrValidation)
)

var (
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStockConflict условное списание остатка не прошло: остаток изменился конкурентно.
	ErrStockConflict = errors.New("stock changed concurrently")
	// ErrTxConflict транзакция отменена хранилищем (serialization failure, deadlock, lock timeout).
	ErrTxConflict = errors.New("transaction conflict")
	// ErrContention конфликт не разрешился за ограниченное число повторов.
	ErrContention = errors.New("concurrent modification: retries exhausted")
	// ErrOutboxPublish ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var (
	// ErrIdempotencyKeyRequired пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsRetryableConflict сообщает, что операцию можно безопасно повторить целиком.
func IsRetryableConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) ||
		errors.Is(err, ErrStockConflict) ||
		errors.Is(err, ErrTxConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
