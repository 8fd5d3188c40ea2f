package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type userRepository struct {
	tx *memTx
}

func (r userRepository) Get(_ context.Context, id string) (domain.User, error) {
	user, ok := r.tx.st.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r userRepository) Save(_ context.Context, user domain.User) error {
	if err := r.tx.checkWritable(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if existing, ok := r.tx.st.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	r.tx.st.users[user.ID] = user
	return nil
}

var _ domain.UserRepository = userRepository{}
