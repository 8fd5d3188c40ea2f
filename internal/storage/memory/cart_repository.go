package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type cartRepository struct {
	tx *memTx
}

func (r cartRepository) Get(_ context.Context, id string) (domain.CartLine, error) {
	line, ok := r.tx.st.carts[id]
	if !ok {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	return line, nil
}

func (r cartRepository) FindByKey(_ context.Context, key domain.CartKey) (domain.CartLine, error) {
	for _, line := range r.tx.st.carts {
		if line.Key() == key {
			return line, nil
		}
	}
	return domain.CartLine{}, domain.ErrCartLineNotFound
}

func (r cartRepository) ListByUser(_ context.Context, userID string, page domain.Page) ([]domain.CartLine, error) {
	result := make([]domain.CartLine, 0)
	for _, line := range r.tx.st.carts {
		if line.UserID == userID {
			result = append(result, line)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return domain.Slice(result, page), nil
}

func (r cartRepository) LockByProduct(_ context.Context, productID string) ([]domain.CartLine, error) {
	result := make([]domain.CartLine, 0)
	for _, line := range r.tx.st.carts {
		if line.ProductID == productID {
			result = append(result, line)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r cartRepository) Create(_ context.Context, line domain.CartLine) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}
	if _, exists := r.tx.st.carts[line.ID]; exists {
		return fmt.Errorf("cart line %s: %w", line.ID, errDuplicateID)
	}
	// Уникальность (пользователь, товар, цвет) держит само хранилище, как и индекс в PostgreSQL.
	for _, other := range r.tx.st.carts {
		if other.Key() == line.Key() {
			return domain.ErrTxConflict
		}
	}
	r.tx.st.carts[line.ID] = line
	return nil
}

func (r cartRepository) Update(_ context.Context, line domain.CartLine) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}
	if _, ok := r.tx.st.carts[line.ID]; !ok {
		return domain.ErrCartLineNotFound
	}
	for id, other := range r.tx.st.carts {
		if id != line.ID && other.Key() == line.Key() {
			return domain.ErrTxConflict
		}
	}
	r.tx.st.carts[line.ID] = line
	return nil
}

func (r cartRepository) Delete(_ context.Context, id string) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}
	delete(r.tx.st.carts, id)
	return nil
}

func (r cartRepository) DeleteByUser(_ context.Context, userID string) (int, error) {
	if err := r.tx.checkWritable(); err != nil {
		return 0, err
	}
	removed := 0
	for id, line := range r.tx.st.carts {
		if line.UserID == userID {
			delete(r.tx.st.carts, id)
			removed++
		}
	}
	return removed, nil
}

// LockByUser: транзакция памяти и так держит хранилище целиком.
func (r cartRepository) LockByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	lines, err := r.ListByUser(ctx, userID, domain.Page{})
	if err != nil {
		return nil, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (r cartRepository) DeleteLines(_ context.Context, ids []string) (int, error) {
	if err := r.tx.checkWritable(); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if _, ok := r.tx.st.carts[id]; ok {
			delete(r.tx.st.carts, id)
			removed++
		}
	}
	return removed, nil
}

var _ domain.CartRepository = cartRepository{}
