package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository поверх состояния транзакции.
type orderRepository struct {
	tx *memTx
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}
	if _, exists := r.tx.st.orders[order.ID]; exists {
		return fmt.Errorf("order %s: %w", order.ID, errDuplicateID)
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.tx.st.orders[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.tx.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: транзакция на запись уже эксклюзивна.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (r orderRepository) ListByUser(_ context.Context, userID string, page domain.Page) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.UserID == userID }, page), nil
}

// List возвращает все заказы, новые первыми.
func (r orderRepository) List(_ context.Context, page domain.Page) ([]domain.Order, error) {
	return r.list(func(domain.Order) bool { return true }, page), nil
}

func (r orderRepository) list(match func(domain.Order) bool, page domain.Page) []domain.Order {
	result := make([]domain.Order, 0, len(r.tx.st.orders))
	for _, order := range r.tx.st.orders {
		if !match(order) {
			continue
		}
		order.Details = nil
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return domain.Slice(result, page)
}

// ListDetails возвращает позиции заказа.
func (r orderRepository) ListDetails(_ context.Context, orderID string) ([]domain.OrderDetail, error) {
	order, ok := r.tx.st.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order.Clone().Details, nil
}

// Save перезаписывает заголовок заказа, проверяя версию (optimistic locking).
func (r orderRepository) Save(_ context.Context, order domain.Order) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}

	current, ok := r.tx.st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Позиции неизменяемы: оставляем сохранённые.
	order.Details = current.Details
	order.Version++
	r.tx.st.orders[order.ID] = order
	return nil
}

var _ domain.OrderRepository = orderRepository{}
