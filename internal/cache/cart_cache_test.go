package cache_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/cache"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func TestCartServiceWithRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.NewStore()
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if err := tx.Users().Save(ctx, domain.User{ID: "ann", Role: domain.RoleUser, IsActive: true}); err != nil {
			return err
		}
		return tx.Products().Save(ctx, domain.Product{ID: "mug", Price: 100, Quantity: 10, IsActive: true})
	}))

	svc := cart.NewService(store, cart.WithCache(cache.NewRedisCartCache(client)))
	ann := domain.Actor{UserID: "ann", Role: domain.RoleUser}

	_, err := svc.Add(ctx, ann, cart.AddRequest{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)

	lines, err := svc.ListForUser(ctx, ann, domain.Page{})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, mr.Exists("shop:cart:{ann}"), "listing must populate cache")

	_, err = svc.Add(ctx, ann, cart.AddRequest{ProductID: "mug", Quantity: 2})
	require.NoError(t, err)
	require.False(t, mr.Exists("shop:cart:{ann}"), "write must invalidate cache")

	lines, err = svc.ListForUser(ctx, ann, domain.Page{})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, 3, lines[0].Quantity)

	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		return tx.Products().Save(ctx, domain.Product{ID: "mug", Price: 120, Quantity: 10, IsActive: true})
	}))
	_, _, err = svc.ResnapshotPrices(ctx, "mug")
	require.NoError(t, err)
	lines, err = svc.ListForUser(ctx, ann, domain.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 360, lines[0].TotalMoney)
}

// invalidatingStore завершает чтение корзины конкурентной инвалидацией,
// как если бы запись в корзину закоммитилась сразу после запроса к базе.
type invalidatingStore struct {
	*memory.Store
	cache *cache.RedisCartCache
}

func (s invalidatingStore) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := s.Store.View(ctx, fn); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, "ann")
}

func TestCartServiceDropsFillRacingInvalidation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.NewStore()
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if err := tx.Users().Save(ctx, domain.User{ID: "ann", Role: domain.RoleUser, IsActive: true}); err != nil {
			return err
		}
		return tx.Products().Save(ctx, domain.Product{ID: "mug", Price: 100, Quantity: 10, IsActive: true})
	}))

	redisCache := cache.NewRedisCartCache(client)
	racing := cart.NewService(invalidatingStore{Store: store, cache: redisCache}, cart.WithCache(redisCache))
	ann := domain.Actor{UserID: "ann", Role: domain.RoleUser}

	lines, err := racing.ListForUser(ctx, ann, domain.Page{})
	require.NoError(t, err)
	require.Empty(t, lines)
	require.False(t, mr.Exists("shop:cart:{ann}"), "page read before invalidation must not be cached")

	svc := cart.NewService(store, cart.WithCache(redisCache))
	_, err = svc.Add(ctx, ann, cart.AddRequest{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	lines, err = svc.ListForUser(ctx, ann, domain.Page{})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, mr.Exists("shop:cart:{ann}"))
}
