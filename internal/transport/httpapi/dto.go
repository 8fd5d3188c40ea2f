package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const dateLayout = time.DateOnly

type cartLineDTO struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	Price      int64     `json:"price"`
	TotalMoney int64     `json:"total_money"`
	Color      string    `json:"color,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toCartLineDTO(l domain.CartLine) cartLineDTO {
	return cartLineDTO{
		ID:         l.ID,
		UserID:     l.UserID,
		ProductID:  l.ProductID,
		Quantity:   l.Quantity,
		Price:      l.Price,
		TotalMoney: l.TotalMoney,
		Color:      l.Color,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func toCartLineDTOs(lines []domain.CartLine) []cartLineDTO {
	out := make([]cartLineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, toCartLineDTO(l))
	}
	return out
}

type orderDetailDTO struct {
	ID               string `json:"id"`
	ProductID        string `json:"product_id"`
	Price            int64  `json:"price"`
	NumberOfProducts int    `json:"number_of_products"`
	TotalMoney       int64  `json:"total_money"`
	Color            string `json:"color,omitempty"`
}

func toDetailDTOs(details []domain.OrderDetail) []orderDetailDTO {
	out := make([]orderDetailDTO, 0, len(details))
	for _, d := range details {
		out = append(out, orderDetailDTO{
			ID:               d.ID,
			ProductID:        d.ProductID,
			Price:            d.Price,
			NumberOfProducts: d.NumberOfProducts,
			TotalMoney:       d.TotalMoney,
			Color:            d.Color,
		})
	}
	return out
}

type orderDTO struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	FullName        string           `json:"full_name"`
	Email           string           `json:"email"`
	PhoneNumber     string           `json:"phone_number,omitempty"`
	Address         string           `json:"address"`
	Note            string           `json:"note,omitempty"`
	Status          string           `json:"status"`
	TotalMoney      int64            `json:"total_money"`
	ShippingMethod  string           `json:"shipping_method,omitempty"`
	ShippingAddress string           `json:"shipping_address,omitempty"`
	ShippingDate    string           `json:"shipping_date,omitempty"`
	TrackingNumber  string           `json:"tracking_number,omitempty"`
	PaymentMethod   string           `json:"payment_method,omitempty"`
	IsActive        bool             `json:"is_active"`
	Version         int64            `json:"version"`
	Details         []orderDetailDTO `json:"details,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func toOrderDTO(o domain.Order) orderDTO {
	dto := orderDTO{
		ID:              o.ID,
		UserID:          o.UserID,
		FullName:        o.FullName,
		Email:           o.Email,
		PhoneNumber:     o.PhoneNumber,
		Address:         o.Address,
		Note:            o.Note,
		Status:          string(o.Status),
		TotalMoney:      o.TotalMoney,
		ShippingMethod:  o.ShippingMethod,
		ShippingAddress: o.ShippingAddress,
		TrackingNumber:  o.TrackingNumber,
		PaymentMethod:   o.PaymentMethod,
		IsActive:        o.IsActive,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if !o.ShippingDate.IsZero() {
		dto.ShippingDate = o.ShippingDate.Format(dateLayout)
	}
	if len(o.Details) > 0 {
		dto.Details = toDetailDTOs(o.Details)
	}
	return dto
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	return out
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func toTimelineDTOs(events []domain.TimelineEvent) []timelineEventDTO {
	out := make([]timelineEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventDTO{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	return out
}

type userDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	Role        string `json:"role"`
	IsActive    bool   `json:"is_active"`
}

func toUserDTO(u domain.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		PhoneNumber: u.PhoneNumber,
		Address:     u.Address,
		Role:        string(u.Role),
		IsActive:    u.IsActive,
	}
}

type productDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	IsActive bool   `json:"is_active"`
}

func toProductDTO(p domain.Product) productDTO {
	return productDTO{ID: p.ID, Name: p.Name, Price: p.Price, Quantity: p.Quantity, IsActive: p.IsActive}
}

type addCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color"`
}

type updateCartRequest struct {
	Quantity int     `json:"quantity"`
	Color    *string `json:"color"`
}

type createOrderRequest struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phone_number"`
	Address         string `json:"address"`
	Note            string `json:"note"`
	ShippingMethod  string `json:"shipping_method"`
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
}

func (r createOrderRequest) toShippingInfo() domain.ShippingInfo {
	return domain.ShippingInfo{
		FullName:        r.FullName,
		Email:           r.Email,
		PhoneNumber:     r.PhoneNumber,
		Address:         r.Address,
		Note:            r.Note,
		ShippingMethod:  r.ShippingMethod,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   r.PaymentMethod,
	}
}

type logisticsRequest struct {
	FullName        *string `json:"full_name"`
	Email           *string `json:"email"`
	PhoneNumber     *string `json:"phone_number"`
	Address         *string `json:"address"`
	Note            *string `json:"note"`
	ShippingAddress *string `json:"shipping_address"`
	ShippingDate    *string `json:"shipping_date"`
	TrackingNumber  *string `json:"tracking_number"`
}

func (r logisticsRequest) toUpdate() (domain.LogisticsUpdate, error) {
	upd := domain.LogisticsUpdate{
		FullName:        r.FullName,
		Email:           r.Email,
		PhoneNumber:     r.PhoneNumber,
		Address:         r.Address,
		Note:            r.Note,
		ShippingAddress: r.ShippingAddress,
		TrackingNumber:  r.TrackingNumber,
	}
	if r.ShippingDate != nil {
		d, err := time.Parse(dateLayout, *r.ShippingDate)
		if err != nil {
			return domain.LogisticsUpdate{}, validationError("shipping_date must be YYYY-MM-DD")
		}
		upd.ShippingDate = &d
	}
	return upd, nil
}

type statusRequest struct {
	Status string `json:"status"`
}

type upsertUserRequest struct {
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address"`
	Role        string `json:"role"`
	IsActive    *bool  `json:"is_active"`
}

type upsertProductRequest struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	IsActive *bool  `json:"is_active"`
}
