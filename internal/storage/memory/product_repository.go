package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productRepository struct {
	tx *memTx
}

func (r productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	product, ok := r.tx.st.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// GetForUpdate читает товары. Отдельная блокировка не нужна: транзакция на запись
// и так держит эксклюзивную блокировку всего хранилища.
func (r productRepository) GetForUpdate(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		product, ok := r.tx.st.products[id]
		if !ok {
			return nil, domain.ErrProductNotFound
		}
		result[id] = product
	}
	return result, nil
}

func (r productRepository) Save(_ context.Context, product domain.Product) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}
	if err := product.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if existing, ok := r.tx.st.products[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	r.tx.st.products[product.ID] = product
	return nil
}

func (r productRepository) DebitStock(_ context.Context, id string, n int) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}

	product, ok := r.tx.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if n < 0 || product.Quantity < n {
		return domain.ErrStockConflict
	}
	product.Quantity -= n
	product.UpdatedAt = time.Now().UTC()
	r.tx.st.products[id] = product
	return nil
}

func (r productRepository) CreditStock(_ context.Context, id string, n int) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}

	product, ok := r.tx.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Quantity += n
	product.UpdatedAt = time.Now().UTC()
	r.tx.st.products[id] = product
	return nil
}

var _ domain.ProductRepository = productRepository{}
