package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Repricer переснимает цену товара в корзинах покупателей.
type Repricer interface {
	// ResnapshotPrices приводит корзины к текущей цене товара в каталоге
	// и возвращает число изменённых строк и применённую цену.
	ResnapshotPrices(ctx context.Context, productID string) (int, int64, error)
}

// PriceChange — полезная нагрузка события ProductPriceChanged.
type PriceChange struct {
	ProductID string `json:"product_id"`
	OldPrice  int64  `json:"old_price"`
	NewPrice  int64  `json:"new_price"`
}

// Service загружает товары внешнего каталога и распространяет смену цены.
type Service struct {
	uow      domain.UnitOfWork
	repricer Repricer
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис каталога. repricer может быть nil.
func NewService(uow domain.UnitOfWork, repricer Repricer, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{
		uow:      uow,
		repricer: repricer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpsertProduct создаёт или перезаписывает товар. Только для администратора.
// Смена цены пишет событие ProductPriceChanged и переснимает цены в корзинах.
func (s *Service) UpsertProduct(ctx context.Context, actor domain.Actor, product domain.Product) (domain.Product, error) {
	if !actor.IsAdmin() {
		return domain.Product{}, domain.ErrForbidden
	}
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	var change *PriceChange
	now := s.now()
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		change = nil
		// Блокировка строки товара упорядочивает конкурентные загрузки:
		// OldPrice в событии всегда равна цене, которую перезаписали.
		locked, err := tx.Products().GetForUpdate(ctx, []string{product.ID})
		switch {
		case err == nil:
			existing := locked[product.ID]
			product.CreatedAt = existing.CreatedAt
			if existing.Price != product.Price {
				change = &PriceChange{ProductID: product.ID, OldPrice: existing.Price, NewPrice: product.Price}
			}
		case errors.Is(err, domain.ErrProductNotFound):
			product.CreatedAt = now
		default:
			return err
		}
		product.UpdatedAt = now

		if err := tx.Products().Save(ctx, product); err != nil {
			return err
		}
		if change == nil {
			return nil
		}

		payload, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("marshal price change: %w", err)
		}
		_, err = tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateProduct,
			AggregateID:   product.ID,
			EventType:     domain.EventProductPriceChanged,
			Payload:       payload,
			CreatedAt:     now,
		})
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	if change != nil {
		if err := s.ApplyPriceChange(ctx, *change); err != nil {
			s.logger.WithError(err).WithField("product_id", product.ID).Warn("cart re-snapshot failed, event consumer will retry")
		}
	}
	return product, nil
}

// ApplyPriceChange приводит корзины к текущей цене товара. Цена из события
// служит только поводом: повтор или событие, пришедшее не по порядку,
// не откатывают корзины к устаревшей цене.
func (s *Service) ApplyPriceChange(ctx context.Context, change PriceChange) error {
	if s.repricer == nil {
		return nil
	}
	n, applied, err := s.repricer.ResnapshotPrices(ctx, change.ProductID)
	if err != nil {
		return err
	}
	entry := s.logger.WithFields(log.Fields{
		"product_id": change.ProductID,
		"old_price":  change.OldPrice,
		"new_price":  change.NewPrice,
		"lines":      n,
	})
	if applied != change.NewPrice {
		entry.WithField("current_price", applied).Info("stale price change, carts follow current price")
		return nil
	}
	entry.Info("price change applied to carts")
	return nil
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		product, err = tx.Products().Get(ctx, id)
		return err
	})
	return product, err
}
