package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/cache"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/identity"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
)

// Dependencies содержит доменные сервисы приложения.
type Dependencies struct {
	Carts    *cart.Service
	Orders   *order.Service
	Identity *identity.Service
	Catalog  *catalog.Service
	Logger   *log.Entry
}

// NewDependencies собирает сервисы поверх одного unit of work.
// cartCache может быть nil: листинги корзины тогда не кешируются.
func NewDependencies(uow domain.UnitOfWork, cartCache *cache.RedisCartCache, shopMetrics *metrics.ShopMetrics, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	cartOpts := []cart.Option{
		cart.WithMetrics(shopMetrics),
		cart.WithLogger(logger.WithField("component", "cart")),
	}
	orderOpts := []order.Option{
		order.WithMetrics(shopMetrics),
		order.WithLogger(logger.WithField("component", "order")),
	}
	if cartCache != nil {
		cartOpts = append(cartOpts, cart.WithCache(cartCache))
		orderOpts = append(orderOpts, order.WithCartCache(cartCache))
	}

	carts := cart.NewService(uow, cartOpts...)
	return &Dependencies{
		Carts:    carts,
		Orders:   order.NewService(uow, orderOpts...),
		Identity: identity.NewService(uow, logger.WithField("component", "identity")),
		Catalog:  catalog.NewService(uow, carts, logger.WithField("component", "catalog")),
		Logger:   logger,
	}
}

// bootstrapAdmin заводит администратора, если его ещё нет в хранилище.
func (d *Dependencies) bootstrapAdmin(ctx context.Context, adminID string) error {
	if adminID == "" {
		return nil
	}
	if err := d.Identity.EnsureAdmin(ctx, adminID); err != nil {
		return fmt.Errorf("bootstrap admin %q: %w", adminID, err)
	}
	return nil
}
