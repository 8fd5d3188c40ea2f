package order

import (
	"context"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// GetOrder возвращает заказ с позициями владельцу или администратору.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanAccess(actor, order) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// ListMyOrders возвращает заказы вызывающего, новые первыми.
func (s *Service) ListMyOrders(ctx context.Context, actor domain.Actor, page domain.Page) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, actor.UserID, page.Normalize())
		return err
	})
	return orders, err
}

// ListOrders возвращает все заказы магазина. Только для администратора.
func (s *Service) ListOrders(ctx context.Context, actor domain.Actor, page domain.Page) ([]domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	var orders []domain.Order
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().List(ctx, page.Normalize())
		return err
	})
	return orders, err
}

func (s *Service) ListDetails(ctx context.Context, actor domain.Actor, orderID string) ([]domain.OrderDetail, error) {
	var details []domain.OrderDetail
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanAccess(actor, order) {
			return domain.ErrForbidden
		}
		details, err = tx.Orders().ListDetails(ctx, orderID)
		return err
	})
	return details, err
}

// Timeline возвращает события жизненного цикла заказа в порядке возникновения.
func (s *Service) Timeline(ctx context.Context, actor domain.Actor, orderID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanAccess(actor, order) {
			return domain.ErrForbidden
		}
		events, err = tx.Timeline().List(ctx, orderID)
		return err
	})
	return events, err
}
