package app

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/cache"
)

const redisPingTimeout = 2 * time.Second

// initCartCache подключает Redis для листингов корзины.
// Пустой адрес или недоступный Redis не мешают запуску: сервис работает без кеша.
func initCartCache(ctx context.Context, addr string, logger *log.Entry) (*cache.RedisCartCache, func()) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("redis is unavailable, cart cache disabled")
		closeFn()
		return nil, func() {}
	}

	logger.WithField("addr", addr).Info("cart cache connected to redis")
	return cache.NewRedisCartCache(client), closeFn
}
