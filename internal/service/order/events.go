package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type itemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Color     string `json:"color,omitempty"`
}

// emit пишет событие в outbox и timeline той же транзакцией, что и изменение заказа.
func emit(ctx context.Context, tx domain.Tx, order domain.Order, eventType, reason string, extra map[string]any) error {
	payload := map[string]any{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"status":      order.Status,
		"total_money": order.TotalMoney,
		"is_active":   order.IsActive,
		"version":     order.Version,
		"ts":          order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	for k, v := range extra {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     order.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}

	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: order.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("append %s timeline event: %w", eventType, err)
	}

	return nil
}

func itemsOf(details []domain.OrderDetail) []itemPayload {
	items := make([]itemPayload, 0, len(details))
	for _, d := range details {
		items = append(items, itemPayload{
			ProductID: d.ProductID,
			Quantity:  d.NumberOfProducts,
			Price:     d.Price,
			Color:     d.Color,
		})
	}
	return items
}
