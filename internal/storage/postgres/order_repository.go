package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type orderRepository struct {
	q querier
}

const orderColumns = `id, user_id, full_name, email, phone_number, address, note, status, total_money,
	shipping_method, shipping_address, shipping_date, tracking_number, payment_method,
	is_active, version, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.UserID, &order.FullName, &order.Email, &order.PhoneNumber,
		&order.Address, &order.Note, &status, &order.TotalMoney,
		&order.ShippingMethod, &order.ShippingAddress, &order.ShippingDate,
		&order.TrackingNumber, &order.PaymentMethod,
		&order.IsActive, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.ShippingDate = domain.DateOf(order.ShippingDate)
	return order, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		order.ID, order.UserID, order.FullName, order.Email, order.PhoneNumber,
		order.Address, order.Note, string(order.Status), order.TotalMoney,
		order.ShippingMethod, order.ShippingAddress, order.ShippingDate,
		order.TrackingNumber, order.PaymentMethod,
		order.IsActive, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, d := range order.Details {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_details (
				id, order_id, product_id, price, number_of_products, total_money, color
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			d.ID, order.ID, d.ProductID, d.Price, d.NumberOfProducts, d.TotalMoney, d.Color,
		); err != nil {
			return fmt.Errorf("insert order detail: %w", err)
		}
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepository) get(ctx context.Context, query, id string) (domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	details, err := r.loadDetails(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Details = details

	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, page domain.Page) ([]domain.Order, error) {
	return r.list(ctx, `WHERE user_id = $1`, []any{userID}, page)
}

func (r *orderRepository) List(ctx context.Context, page domain.Page) ([]domain.Order, error) {
	return r.list(ctx, ``, nil, page)
}

func (r *orderRepository) list(ctx context.Context, where string, args []any, page domain.Page) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if page.Size > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, page.Size, page.Offset())
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) ListDetails(ctx context.Context, orderID string) ([]domain.OrderDetail, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return r.loadDetails(ctx, orderID)
}

// Save обновляет заголовок заказа. Позиции после создания не меняются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET full_name = $1,
		    email = $2,
		    phone_number = $3,
		    address = $4,
		    note = $5,
		    status = $6,
		    shipping_address = $7,
		    shipping_date = $8,
		    tracking_number = $9,
		    is_active = $10,
		    version = version + 1,
		    updated_at = $11
		WHERE id = $12
		  AND version = $13
	`,
		order.FullName,
		order.Email,
		order.PhoneNumber,
		order.Address,
		order.Note,
		string(order.Status),
		order.ShippingAddress,
		order.ShippingDate,
		order.TrackingNumber,
		order.IsActive,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) loadDetails(ctx context.Context, orderID string) ([]domain.OrderDetail, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, price, number_of_products, total_money, color
		FROM order_details
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order details: %w", err)
	}
	defer rows.Close()

	details := make([]domain.OrderDetail, 0)
	for rows.Next() {
		var d domain.OrderDetail
		if err := rows.Scan(&d.ID, &d.OrderID, &d.ProductID, &d.Price, &d.NumberOfProducts, &d.TotalMoney, &d.Color); err != nil {
			return nil, fmt.Errorf("scan order detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order details: %w", err)
	}

	return details, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
