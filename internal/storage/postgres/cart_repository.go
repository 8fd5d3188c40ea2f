package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type cartRepository struct {
	q querier
}

const cartColumns = `id, user_id, product_id, quantity, price, total_money, color, created_at, updated_at`

func scanCartLine(row interface{ Scan(...any) error }) (domain.CartLine, error) {
	var l domain.CartLine
	err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.Price, &l.TotalMoney, &l.Color, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *cartRepository) Get(ctx context.Context, id string) (domain.CartLine, error) {
	line, err := scanCartLine(r.q.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM cart_lines WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartLine{}, domain.ErrCartLineNotFound
		}
		return domain.CartLine{}, fmt.Errorf("select cart line: %w", err)
	}
	return line, nil
}

func (r *cartRepository) FindByKey(ctx context.Context, key domain.CartKey) (domain.CartLine, error) {
	line, err := scanCartLine(r.q.QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM cart_lines
		WHERE user_id = $1 AND product_id = $2 AND color = $3
	`, key.UserID, key.ProductID, key.Color))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartLine{}, domain.ErrCartLineNotFound
		}
		return domain.CartLine{}, fmt.Errorf("select cart line by key: %w", err)
	}
	return line, nil
}

func (r *cartRepository) ListByUser(ctx context.Context, userID string, page domain.Page) ([]domain.CartLine, error) {
	query := `
		SELECT ` + cartColumns + `
		FROM cart_lines
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if page.Size > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2 OFFSET $3", userID, page.Size, page.Offset())
	} else {
		rows, err = r.q.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	return collectCartLines(rows)
}

func (r *cartRepository) LockByProduct(ctx context.Context, productID string) ([]domain.CartLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM cart_lines
		WHERE product_id = $1
		ORDER BY id
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines by product: %w", err)
	}
	return collectCartLines(rows)
}

func collectCartLines(rows *sql.Rows) ([]domain.CartLine, error) {
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *cartRepository) Create(ctx context.Context, line domain.CartLine) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_lines (`+cartColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		line.ID, line.UserID, line.ProductID, line.Quantity, line.Price,
		line.TotalMoney, line.Color, line.CreatedAt, line.UpdatedAt,
	)
	if err != nil {
		// Параллельная вставка той же тройки (пользователь, товар, цвет): повтор приведёт к слиянию.
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrTxConflict, err)
		}
		return fmt.Errorf("insert cart line: %w", err)
	}
	return nil
}

func (r *cartRepository) Update(ctx context.Context, line domain.CartLine) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE cart_lines
		SET quantity = $2,
		    price = $3,
		    total_money = $4,
		    color = $5,
		    updated_at = $6
		WHERE id = $1
	`, line.ID, line.Quantity, line.Price, line.TotalMoney, line.Color, line.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrTxConflict, err)
		}
		return fmt.Errorf("update cart line: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartLineNotFound
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (r *cartRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *cartRepository) LockByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM cart_lines
		WHERE user_id = $1
		ORDER BY id
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	return collectCartLines(rows)
}

func (r *cartRepository) DeleteLines(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete cart lines by id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
