package order

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// UpdateStatus переводит заказ в новый статус по таблице переходов роли.
// Повторный запрос того же статуса ничего не меняет. Отмена из PENDING или
// PROCESSING возвращает товар на склад в той же транзакции.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, orderID, requested string) (domain.Order, error) {
	var (
		result  domain.Order
		from    domain.OrderStatus
		changed bool
	)
	err := s.retrier.Do(ctx, "update_status", func() error {
		changed = false
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			order, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			target, err := domain.ParseOrderStatus(requested)
			if err != nil {
				return fmt.Errorf("%q: %w", requested, err)
			}
			if !domain.CanAccess(actor, order) {
				return domain.ErrForbidden
			}
			if target == order.Status {
				result = order
				return nil
			}
			if !domain.CanTransition(actor.Role, order.Status, target) {
				return fmt.Errorf("%s -> %s: %w", order.Status, target, domain.ErrInvalidStateTransition)
			}

			from = order.Status
			now := s.now()
			if from == domain.OrderStatusShipped && target == domain.OrderStatusDelivered {
				order.ShippingDate = domain.DateOf(now)
			}
			if target == domain.OrderStatusCancelled && from.RestoresStock() {
				credit := make(map[string]int, len(order.Details))
				for _, d := range order.Details {
					credit[d.ProductID] += d.NumberOfProducts
				}
				// тот же порядок блокировок, что при списании
				for _, id := range slices.Sorted(maps.Keys(credit)) {
					if err := tx.Products().CreditStock(ctx, id, credit[id]); err != nil {
						return fmt.Errorf("restore stock for %s: %w", id, err)
					}
				}
			}

			order.Status = target
			order.UpdatedAt = now
			if err := tx.Orders().Save(ctx, order); err != nil {
				return err
			}
			order.Version++

			if err := emit(ctx, tx, order, domain.EventOrderStatusChanged,
				fmt.Sprintf("%s->%s", from, target), map[string]any{"previous_status": from}); err != nil {
				return err
			}

			result = order
			changed = true
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	if changed {
		s.metrics.RecordTransition(string(from), string(result.Status))
		s.metrics.RecordOutboxEvent()
		s.metrics.RecordTimelineEvent()
		s.logger.WithFields(log.Fields{
			"order_id": result.ID,
			"from":     from,
			"to":       result.Status,
			"actor":    actor.UserID,
		}).Info("order status changed")
	}
	return result, nil
}

// UpdateLogisticsFields применяет частичную правку контактов и доставки.
// Покупатель правит только свой заказ в статусе PENDING и не может задавать
// дату доставки или трек-номер. Отгруженные и закрытые заказы не правятся никем.
func (s *Service) UpdateLogisticsFields(ctx context.Context, actor domain.Actor, orderID string, upd domain.LogisticsUpdate) (domain.Order, error) {
	var result domain.Order
	err := s.retrier.Do(ctx, "update_logistics", func() error {
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			order, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if err := checkLogisticsEdit(actor, order, upd); err != nil {
				return err
			}

			now := s.now()
			if err := upd.Validate(now); err != nil {
				return err
			}

			upd.Apply(&order)
			order.UpdatedAt = now
			if err := tx.Orders().Save(ctx, order); err != nil {
				return err
			}
			order.Version++

			extra := map[string]any{
				"shipping_address": order.ShippingAddress,
				"shipping_date":    order.ShippingDate.Format(time.DateOnly),
			}
			if order.TrackingNumber != "" {
				extra["tracking_number"] = order.TrackingNumber
			}
			if err := emit(ctx, tx, order, domain.EventOrderLogisticsUpdated, "", extra); err != nil {
				return err
			}

			result = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOutboxEvent()
	s.metrics.RecordTimelineEvent()
	return result, nil
}

func checkLogisticsEdit(actor domain.Actor, order domain.Order, upd domain.LogisticsUpdate) error {
	switch order.Status {
	case domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return fmt.Errorf("status %s: %w", order.Status, domain.ErrCannotModifyOrder)
	}
	if !domain.CanAccess(actor, order) {
		return domain.ErrCannotModifyOrder
	}
	if actor.IsAdmin() {
		return nil
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("status %s: %w", order.Status, domain.ErrCannotModifyOrder)
	}
	if upd.TouchesAdminFields() {
		return fmt.Errorf("shipping date and tracking number are set by staff: %w", domain.ErrCannotModifyOrder)
	}
	return nil
}

// ToggleActive переключает архивный флаг доставленного заказа. Только для администратора.
func (s *Service) ToggleActive(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	if !actor.IsAdmin() {
		return domain.Order{}, domain.ErrForbidden
	}

	var result domain.Order
	err := s.retrier.Do(ctx, "toggle_active", func() error {
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			order, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status != domain.OrderStatusDelivered {
				return fmt.Errorf("status %s: %w", order.Status, domain.ErrInvalidActiveStatus)
			}

			order.IsActive = !order.IsActive
			order.UpdatedAt = s.now()
			if err := tx.Orders().Save(ctx, order); err != nil {
				return err
			}
			order.Version++

			if err := emit(ctx, tx, order, domain.EventOrderActiveToggled, "", nil); err != nil {
				return err
			}
			result = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOutboxEvent()
	s.metrics.RecordTimelineEvent()
	return result, nil
}
