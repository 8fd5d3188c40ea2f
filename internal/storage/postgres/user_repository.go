package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type userRepository struct {
	q querier
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	var (
		user domain.User
		role string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, email, full_name, phone_number, address, role, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&user.ID, &user.Email, &user.FullName, &user.PhoneNumber, &user.Address,
		&role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	user.Role = domain.Role(role)
	return user, nil
}

func (r *userRepository) Save(ctx context.Context, user domain.User) error {
	now := time.Now().UTC()
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, phone_number, address, role, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    full_name = EXCLUDED.full_name,
		    phone_number = EXCLUDED.phone_number,
		    address = EXCLUDED.address,
		    role = EXCLUDED.role,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
	`,
		user.ID, user.Email, user.FullName, user.PhoneNumber, user.Address,
		string(user.Role), user.IsActive, now,
	); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

var _ domain.UserRepository = (*userRepository)(nil)
