package domain

import (
	"regexp"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending заказ создан и ещё может редактироваться.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing заказ принят в работу продавцом.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered заказ получен покупателем. Терминальный статус.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled заказ отменён. Терминальный статус.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// AllOrderStatuses перечисляет статусы в порядке жизненного цикла.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus разбирает имя статуса без учёта регистра.
func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllOrderStatuses {
		if st == candidate {
			return st, nil
		}
	}
	return "", ErrInvalidOrderStatus
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// RestoresStock сообщает, возвращает ли отмена из этого статуса товар на склад.
func (s OrderStatus) RestoresStock() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// DefaultShippingLead — срок доставки по умолчанию от даты оформления.
const DefaultShippingLead = 3 * 24 * time.Hour

// Order — неизменяемый снимок корзины плюс логистические поля и статус.
type Order struct {
	ID     string
	UserID string

	// Контакты копируются при оформлении и не зависят от профиля пользователя.
	FullName    string
	Email       string
	PhoneNumber string
	Address     string
	Note        string

	Status     OrderStatus
	TotalMoney int64

	ShippingMethod  string
	ShippingAddress string
	// ShippingDate — календарная дата (полночь UTC).
	ShippingDate   time.Time
	TrackingNumber string
	PaymentMethod  string

	// IsActive — флаг архивации доставленного заказа, не связан со статусом.
	IsActive bool

	Details   []OrderDetail
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderDetail — позиция заказа. После создания не меняется.
type OrderDetail struct {
	ID               string
	OrderID          string
	ProductID        string
	Price            int64
	NumberOfProducts int
	TotalMoney       int64
	Color            string
}

// DetailFromLine снимает позицию заказа со строки корзины.
func DetailFromLine(orderID, detailID string, line CartLine) OrderDetail {
	return OrderDetail{
		ID:               detailID,
		OrderID:          orderID,
		ProductID:        line.ProductID,
		Price:            line.Price,
		NumberOfProducts: line.Quantity,
		TotalMoney:       line.Price * int64(line.Quantity),
		Color:            line.Color,
	}
}

// DetailsTotal суммирует итоги позиций.
func DetailsTotal(details []OrderDetail) int64 {
	var total int64
	for _, d := range details {
		total += d.TotalMoney
	}
	return total
}

// DateOf отбрасывает время суток и возвращает полночь UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

// ShippingInfo — контактные и логистические данные из запроса на оформление.
type ShippingInfo struct {
	FullName        string
	Email           string
	PhoneNumber     string
	Address         string
	Note            string
	ShippingMethod  string
	ShippingAddress string
	PaymentMethod   string
}

// WithDefaults дополняет пустые контакты данными профиля пользователя.
func (s ShippingInfo) WithDefaults(u User) ShippingInfo {
	if strings.TrimSpace(s.FullName) == "" {
		s.FullName = u.FullName
	}
	if strings.TrimSpace(s.Email) == "" {
		s.Email = u.Email
	}
	if strings.TrimSpace(s.PhoneNumber) == "" {
		s.PhoneNumber = u.PhoneNumber
	}
	if strings.TrimSpace(s.Address) == "" {
		s.Address = u.Address
	}
	if strings.TrimSpace(s.ShippingAddress) == "" {
		s.ShippingAddress = s.Address
	}
	return s
}

// Validate проверяет обязательные контакты.
func (s ShippingInfo) Validate() error {
	if strings.TrimSpace(s.FullName) == "" ||
		strings.TrimSpace(s.Email) == "" ||
		strings.TrimSpace(s.Address) == "" {
		return ErrInvalidShippingInfo
	}
	if s.PhoneNumber != "" && !phonePattern.MatchString(s.PhoneNumber) {
		return ErrInvalidShippingInfo
	}
	return nil
}

// LogisticsUpdate — частичная правка заказа. nil означает "поле не передано".
type LogisticsUpdate struct {
	FullName        *string
	Email           *string
	PhoneNumber     *string
	Address         *string
	Note            *string
	ShippingAddress *string
	ShippingDate    *time.Time
	TrackingNumber  *string
}

// TouchesAdminFields сообщает, передал ли вызывающий поля, доступные только администратору.
func (u LogisticsUpdate) TouchesAdminFields() bool {
	return u.ShippingDate != nil || u.TrackingNumber != nil
}

// Validate проверяет значения переданных полей.
func (u LogisticsUpdate) Validate(today time.Time) error {
	if u.PhoneNumber != nil && !phonePattern.MatchString(*u.PhoneNumber) {
		return ErrInvalidShippingInfo
	}
	if u.Address != nil && strings.TrimSpace(*u.Address) == "" {
		return ErrInvalidShippingInfo
	}
	if u.ShippingDate != nil && DateOf(*u.ShippingDate).Before(DateOf(today)) {
		return ErrInvalidShippingDate
	}
	return nil
}

// Apply переносит переданные поля в заказ.
func (u LogisticsUpdate) Apply(o *Order) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&o.FullName, u.FullName)
	set(&o.Email, u.Email)
	set(&o.PhoneNumber, u.PhoneNumber)
	set(&o.Address, u.Address)
	set(&o.Note, u.Note)
	set(&o.ShippingAddress, u.ShippingAddress)
	set(&o.TrackingNumber, u.TrackingNumber)
	if u.ShippingDate != nil {
		o.ShippingDate = DateOf(*u.ShippingDate)
	}
}

// Clone возвращает копию заказа с собственным срезом позиций.
func (o Order) Clone() Order {
	if o.Details != nil {
		details := make([]OrderDetail, len(o.Details))
		copy(details, o.Details)
		o.Details = details
	}
	return o
}

// TimelineEvent — запись истории заказа: создание, смена статуса, правка
// логистики. Type совпадает с типом outbox-события.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
