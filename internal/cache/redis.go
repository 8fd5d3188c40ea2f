package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
)

const (
	defaultBaseTTL   = 15 * time.Minute
	defaultMaxJitter = 5 * time.Minute
	generationTTL    = 24 * time.Hour
	keyPrefix        = "shop:cart:"
)

// setIfGeneration пишет страницу, только если счётчик поколения не сдвинулся.
// Отсутствующий счётчик равен нулю.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisCartCache хранит страницы корзины в одном hash на пользователя:
// поле — "page:size", значение — JSON строк. Рядом лежит счётчик поколения:
// инвалидация сначала увеличивает его, затем удаляет hash целиком.
type RedisCartCache struct {
	client    redis.UniversalClient
	baseTTL   time.Duration
	maxJitter time.Duration
}

// Option настраивает RedisCartCache.
type Option func(*RedisCartCache)

// WithTTL задаёт базовый TTL и максимальный разброс.
func WithTTL(base, jitter time.Duration) Option {
	return func(c *RedisCartCache) {
		if base > 0 {
			c.baseTTL = base
		}
		if jitter >= 0 {
			c.maxJitter = jitter
		}
	}
}

func NewRedisCartCache(client redis.UniversalClient, opts ...Option) *RedisCartCache {
	c := &RedisCartCache{
		client:    client,
		baseTTL:   defaultBaseTTL,
		maxJitter: defaultMaxJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cachedLine struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	Price      int64     `json:"price"`
	TotalMoney int64     `json:"total_money"`
	Color      string    `json:"color,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *RedisCartCache) Get(ctx context.Context, userID string, page domain.Page) ([]domain.CartLine, bool, error) {
	data, err := c.client.HGet(ctx, cacheKey(userID), pageField(page)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget failed: %w", err)
	}

	var stored []cachedLine
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false, fmt.Errorf("unmarshal cart page failed: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(stored))
	for _, l := range stored {
		lines = append(lines, domain.CartLine{
			ID:         l.ID,
			UserID:     l.UserID,
			ProductID:  l.ProductID,
			Quantity:   l.Quantity,
			Price:      l.Price,
			TotalMoney: l.TotalMoney,
			Color:      l.Color,
			CreatedAt:  l.CreatedAt,
			UpdatedAt:  l.UpdatedAt,
		})
	}
	return lines, true, nil
}

func (c *RedisCartCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

func (c *RedisCartCache) Set(ctx context.Context, userID string, gen int64, page domain.Page, lines []domain.CartLine) error {
	stored := make([]cachedLine, 0, len(lines))
	for _, l := range lines {
		stored = append(stored, cachedLine{
			ID:         l.ID,
			UserID:     l.UserID,
			ProductID:  l.ProductID,
			Quantity:   l.Quantity,
			Price:      l.Price,
			TotalMoney: l.TotalMoney,
			Color:      l.Color,
			CreatedAt:  l.CreatedAt,
			UpdatedAt:  l.UpdatedAt,
		})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal cart page failed: %w", err)
	}

	keys := []string{cacheKey(userID), generationKey(userID)}
	err = setIfGeneration.Run(ctx, c.client, keys,
		strconv.FormatInt(gen, 10), pageField(page), data, c.ttl().Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

func (c *RedisCartCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			genKey := generationKey(id)
			pipe.Incr(ctx, genKey)
			pipe.Expire(ctx, genKey, generationTTL)
			pipe.Del(ctx, cacheKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis.
func (c *RedisCartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartCache) ttl() time.Duration {
	if c.maxJitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + rand.N(c.maxJitter)
}

// Hash-тег держит страницы и счётчик пользователя в одном слоте кластера.
func cacheKey(userID string) string {
	return keyPrefix + "{" + userID + "}"
}

func generationKey(userID string) string {
	return cacheKey(userID) + ":gen"
}

func pageField(page domain.Page) string {
	return fmt.Sprintf("%d:%d", page.Page, page.Size)
}

var _ cart.Cache = (*RedisCartCache)(nil)
