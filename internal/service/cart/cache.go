package cart

import (
	"context"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Cache хранит уже собранные страницы корзины пользователя.
// Любая запись в корзину пользователя должна сбрасывать его страницы целиком.
type Cache interface {
	// Get возвращает страницу и true, если она есть в кеше.
	Get(ctx context.Context, userID string, page domain.Page) ([]domain.CartLine, bool, error)
	// Generation возвращает поколение кеша пользователя. Читается до запроса к базе.
	Generation(ctx context.Context, userID string) (int64, error)
	// Set сохраняет страницу, только если поколение всё ещё равно gen:
	// страница, прочитанная до конкурентной инвалидации, молча отбрасывается.
	Set(ctx context.Context, userID string, gen int64, page domain.Page, lines []domain.CartLine) error
	// Invalidate сдвигает поколение и удаляет страницы пользователей.
	Invalidate(ctx context.Context, userIDs ...string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, domain.Page) ([]domain.CartLine, bool, error) {
	return nil, false, nil
}

func (noopCache) Generation(context.Context, string) (int64, error) { return 0, nil }

func (noopCache) Set(context.Context, string, int64, domain.Page, []domain.CartLine) error { return nil }

func (noopCache) Invalidate(context.Context, ...string) error { return nil }

var _ Cache = noopCache{}
