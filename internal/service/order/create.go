package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// CreateOrder превращает корзину вызывающего в заказ. Проверки, запись заказа,
// списание остатков, очистка корзины и события выполняются одной транзакцией:
// при любой ошибке не остаётся ни заказа, ни списаний.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, info domain.ShippingInfo) (domain.Order, error) {
	started := time.Now()

	var order domain.Order
	err := s.retrier.Do(ctx, "create_order", func() error {
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			var err error
			order, err = s.createInTx(ctx, tx, actor, info)
			return err
		})
	})

	if err != nil {
		reason := rejectionReason(err)
		s.metrics.ObserveCreateOrder(reason, time.Since(started))
		s.metrics.RecordCheckoutRejected(reason)
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id": actor.UserID,
			"reason":  reason,
		}).Info("order creation rejected")
		return domain.Order{}, err
	}

	s.metrics.ObserveCreateOrder("ok", time.Since(started))
	s.metrics.RecordOrderCreated()
	s.metrics.RecordOutboxEvent()
	s.metrics.RecordTimelineEvent()
	s.invalidateCart(ctx, actor.UserID)

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_money": order.TotalMoney,
		"items":       len(order.Details),
	}).Info("order created")

	return order, nil
}

func (s *Service) createInTx(ctx context.Context, tx domain.Tx, actor domain.Actor, info domain.ShippingInfo) (domain.Order, error) {
	user, err := tx.Users().Get(ctx, actor.UserID)
	if err != nil {
		return domain.Order{}, err
	}
	if !user.IsActive {
		return domain.Order{}, domain.ErrUserDeactivated
	}

	// Блокировка строк корзины не даёт двум оформлениям одного покупателя
	// потратить одну корзину дважды: второе дождётся коммита и увидит пустую.
	lines, err := tx.Carts().LockByUser(ctx, user.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(lines) == 0 {
		return domain.Order{}, domain.ErrEmptyCart
	}

	// Строки одного товара разных цветов списываются с одного остатка.
	demand := make(map[string]int, len(lines))
	for _, line := range lines {
		demand[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(demand))
	for id := range demand {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	products, err := tx.Products().GetForUpdate(ctx, productIDs)
	if err != nil {
		return domain.Order{}, err
	}
	for _, id := range productIDs {
		product := products[id]
		if !product.IsActive {
			return domain.Order{}, fmt.Errorf("product %s: %w", id, domain.ErrInvalidProduct)
		}
		if !product.HasStock(demand[id]) {
			return domain.Order{}, fmt.Errorf("product %s: requested %d, available %d: %w",
				id, demand[id], product.Quantity, domain.ErrCapacityExceeded)
		}
	}

	contact := info.WithDefaults(user)
	if err := contact.Validate(); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		FullName:        contact.FullName,
		Email:           contact.Email,
		PhoneNumber:     contact.PhoneNumber,
		Address:         contact.Address,
		Note:            contact.Note,
		Status:          domain.OrderStatusPending,
		ShippingMethod:  contact.ShippingMethod,
		ShippingAddress: contact.ShippingAddress,
		ShippingDate:    domain.DateOf(now.Add(domain.DefaultShippingLead)),
		PaymentMethod:   contact.PaymentMethod,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.Details = make([]domain.OrderDetail, 0, len(lines))
	for _, line := range lines {
		order.Details = append(order.Details, domain.DetailFromLine(order.ID, uuid.NewString(), line))
	}
	order.TotalMoney = domain.DetailsTotal(order.Details)

	if err := tx.Orders().Create(ctx, order); err != nil {
		return domain.Order{}, err
	}
	for _, id := range productIDs {
		if err := tx.Products().DebitStock(ctx, id, demand[id]); err != nil {
			return domain.Order{}, err
		}
	}
	lineIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		lineIDs = append(lineIDs, line.ID)
	}
	removed, err := tx.Carts().DeleteLines(ctx, lineIDs)
	if err != nil {
		return domain.Order{}, err
	}
	if removed != len(lineIDs) {
		return domain.Order{}, fmt.Errorf("cart changed during checkout: removed %d of %d lines: %w",
			removed, len(lineIDs), domain.ErrTxConflict)
	}

	if err := emit(ctx, tx, order, domain.EventOrderCreated, "", map[string]any{
		"items":         itemsOf(order.Details),
		"shipping_date": order.ShippingDate.Format(time.DateOnly),
	}); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (s *Service) invalidateCart(ctx context.Context, userID string) {
	if s.cartCache == nil {
		return
	}
	if err := s.cartCache.Invalidate(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache invalidation failed")
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrInvalidProduct):
		return "invalid_product"
	case errors.Is(err, domain.ErrUserDeactivated):
		return "user_deactivated"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_contact"
	case errors.Is(err, domain.ErrContention):
		return "contention"
	default:
		return "error"
	}
}
