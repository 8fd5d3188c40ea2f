package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productRepository struct {
	q querier
}

const productColumns = `id, name, price, quantity, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// GetForUpdate блокирует строки в порядке возрастания ID, чтобы параллельные
// оформления с пересекающимися товарами не ловили deadlock.
func (r *productRepository) GetForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	result := make(map[string]domain.Product, len(sorted))
	for _, id := range sorted {
		if _, seen := result[id]; seen {
			continue
		}
		p, err := scanProduct(r.q.QueryRowContext(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domain.ErrProductNotFound
			}
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}
		result[id] = p
	}
	return result, nil
}

func (r *productRepository) Save(ctx context.Context, product domain.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    quantity = EXCLUDED.quantity,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Price, product.Quantity, product.IsActive, now); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// DebitStock списывает остаток только если его хватает; иначе ErrStockConflict.
func (r *productRepository) DebitStock(ctx context.Context, id string, n int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $1,
		    updated_at = $3
		WHERE id = $2
		  AND quantity >= $1
	`, n, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("debit stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrStockConflict
	}
	return nil
}

func (r *productRepository) CreditStock(ctx context.Context, id string, n int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $1,
		    updated_at = $3
		WHERE id = $2
	`, n, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("credit stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
