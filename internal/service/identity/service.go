package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Service — тонкий слой над записями внешнего сервиса идентификации:
// определяет актора запроса и позволяет администратору загружать пользователей.
type Service struct {
	uow    domain.UnitOfWork
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис идентификации.
func NewService(uow domain.UnitOfWork, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "identity")
	}
	return &Service{
		uow:    uow,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveActor возвращает актора по ID пользователя. Деактивированный
// пользователь получает ErrUserDeactivated.
func (s *Service) ResolveActor(ctx context.Context, userID string) (domain.Actor, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Actor{}, domain.ErrUserNotFound
	}

	var user domain.User
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		user, err = tx.Users().Get(ctx, userID)
		return err
	})
	if err != nil {
		return domain.Actor{}, err
	}
	if !user.IsActive {
		return domain.Actor{}, domain.ErrUserDeactivated
	}
	return domain.ActorFor(user), nil
}

// UpsertUser создаёт или перезаписывает пользователя. Только для администратора.
func (s *Service) UpsertUser(ctx context.Context, actor domain.Actor, user domain.User) (domain.User, error) {
	if !actor.IsAdmin() {
		return domain.User{}, domain.ErrForbidden
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, fmt.Errorf("user id is required: %w", domain.ErrValidation)
	}
	role, ok := domain.ParseRole(string(user.Role))
	if !ok {
		return domain.User{}, fmt.Errorf("unknown role %q: %w", user.Role, domain.ErrValidation)
	}
	user.Role = role

	now := s.now()
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		existing, err := tx.Users().Get(ctx, user.ID)
		switch {
		case err == nil:
			user.CreatedAt = existing.CreatedAt
		case errors.Is(err, domain.ErrUserNotFound):
			user.CreatedAt = now
		default:
			return err
		}
		user.UpdatedAt = now
		return tx.Users().Save(ctx, user)
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logger.WithFields(log.Fields{
		"user_id":   user.ID,
		"role":      user.Role,
		"is_active": user.IsActive,
		"actor":     actor.UserID,
	}).Info("user upserted")
	return user, nil
}

// EnsureAdmin создаёт активного администратора с указанным ID, если его ещё нет.
func (s *Service) EnsureAdmin(ctx context.Context, adminID string) error {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil
	}

	now := s.now()
	created := false
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		_, err := tx.Users().Get(ctx, adminID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		created = true
		return tx.Users().Save(ctx, domain.User{
			ID:        adminID,
			FullName:  "Administrator",
			Role:      domain.RoleAdmin,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		s.logger.WithField("user_id", adminID).Info("bootstrap admin created")
	}
	return nil
}
