package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/retry"
)

// AddRequest — добавление товара в корзину.
type AddRequest struct {
	ProductID string
	Quantity  int
	Color     string
}

// UpdateRequest — правка строки корзины. Color == nil оставляет текущий вариант.
type UpdateRequest struct {
	Quantity int
	Color    *string
}

// Service реализует операции над корзиной покупателя.
type Service struct {
	uow     domain.UnitOfWork
	cache   Cache
	metrics *metrics.ShopMetrics
	logger  *log.Entry
	now     func() time.Time
	retrier *retry.Retrier
}

// Option настраивает Service.
type Option func(*options)

type options struct {
	cache   Cache
	metrics *metrics.ShopMetrics
	logger  *log.Entry
	now     func() time.Time
	retry   retry.Config
}

// WithCache подключает кеш листинга корзины.
func WithCache(c Cache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(l *log.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRetryConfig задаёт политику повторов при конфликте уникальности строки.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// NewService создаёт сервис корзины поверх единицы работы.
func NewService(uow domain.UnitOfWork, opts ...Option) *Service {
	o := options{
		cache:  noopCache{},
		logger: log.New().WithField("component", "cart"),
		now:    func() time.Time { return time.Now().UTC() },
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := o.metrics
	return &Service{
		uow:     uow,
		cache:   o.cache,
		metrics: m,
		logger:  o.logger,
		now:     o.now,
		retrier: retry.New(o.retry, o.logger, m.RecordStockRetry),
	}
}

// Add кладёт товар в корзину или увеличивает количество в существующей строке
// того же товара и цвета. Цена строки берётся из каталога на момент вызова.
func (s *Service) Add(ctx context.Context, actor domain.Actor, req AddRequest) (domain.CartLine, error) {
	if req.Quantity < 1 {
		s.metrics.RecordCartOperation("add", resultOf(domain.ErrInvalidQuantity))
		return domain.CartLine{}, domain.ErrInvalidQuantity
	}

	var line domain.CartLine
	err := s.retrier.Do(ctx, "cart_add", func() error {
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			if err := requireActiveUser(ctx, tx, actor.UserID); err != nil {
				return err
			}
			product, err := activeProduct(ctx, tx, req.ProductID)
			if err != nil {
				return err
			}

			now := s.now()
			key := domain.CartKey{UserID: actor.UserID, ProductID: req.ProductID, Color: req.Color}
			existing, err := tx.Carts().FindByKey(ctx, key)
			switch {
			case err == nil:
				total := existing.Quantity + req.Quantity
				if err := checkStock(product, total); err != nil {
					return err
				}
				existing.Reprice(product.Price)
				existing.SetQuantity(total)
				existing.UpdatedAt = now
				if err := tx.Carts().Update(ctx, existing); err != nil {
					return err
				}
				line = existing
				return nil
			case errors.Is(err, domain.ErrCartLineNotFound):
				if err := checkStock(product, req.Quantity); err != nil {
					return err
				}
				line = domain.CartLine{
					ID:        uuid.NewString(),
					UserID:    actor.UserID,
					ProductID: product.ID,
					Quantity:  req.Quantity,
					Color:     req.Color,
					CreatedAt: now,
					UpdatedAt: now,
				}
				line.Reprice(product.Price)
				return tx.Carts().Create(ctx, line)
			default:
				return err
			}
		})
	})

	s.afterWrite(ctx, "add", actor.UserID, err)
	if err != nil {
		return domain.CartLine{}, err
	}
	return line, nil
}

// Update меняет количество и, опционально, цвет строки. Если у пользователя уже
// есть строка с тем же товаром и новым цветом, строки сливаются в одну.
func (s *Service) Update(ctx context.Context, actor domain.Actor, lineID string, req UpdateRequest) (domain.CartLine, error) {
	if req.Quantity < 1 {
		s.metrics.RecordCartOperation("update", resultOf(domain.ErrInvalidQuantity))
		return domain.CartLine{}, domain.ErrInvalidQuantity
	}

	var result domain.CartLine
	err := s.retrier.Do(ctx, "cart_update", func() error {
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			line, err := tx.Carts().Get(ctx, lineID)
			if err != nil {
				return err
			}
			if line.UserID != actor.UserID {
				return domain.ErrForbidden
			}
			product, err := activeProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}

			now := s.now()
			color := line.Color
			if req.Color != nil {
				color = *req.Color
			}

			if color != line.Color {
				other, err := tx.Carts().FindByKey(ctx, domain.CartKey{UserID: line.UserID, ProductID: line.ProductID, Color: color})
				switch {
				case err == nil:
					total := req.Quantity + other.Quantity
					if err := checkStock(product, total); err != nil {
						return err
					}
					other.Reprice(product.Price)
					other.SetQuantity(total)
					other.UpdatedAt = now
					if err := tx.Carts().Delete(ctx, line.ID); err != nil {
						return err
					}
					if err := tx.Carts().Update(ctx, other); err != nil {
						return err
					}
					result = other
					return nil
				case !errors.Is(err, domain.ErrCartLineNotFound):
					return err
				}
			}

			if err := checkStock(product, req.Quantity); err != nil {
				return err
			}
			line.Color = color
			line.Reprice(product.Price)
			line.SetQuantity(req.Quantity)
			line.UpdatedAt = now
			if err := tx.Carts().Update(ctx, line); err != nil {
				return err
			}
			result = line
			return nil
		})
	})

	s.afterWrite(ctx, "update", actor.UserID, err)
	if err != nil {
		return domain.CartLine{}, err
	}
	return result, nil
}

// Delete удаляет строку. Повторное удаление не ошибка.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, lineID string) error {
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		line, err := tx.Carts().Get(ctx, lineID)
		if errors.Is(err, domain.ErrCartLineNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if line.UserID != actor.UserID {
			return domain.ErrForbidden
		}
		return tx.Carts().Delete(ctx, lineID)
	})

	s.afterWrite(ctx, "delete", actor.UserID, err)
	return err
}

// ClearForUser удаляет все строки корзины вызывающего.
func (s *Service) ClearForUser(ctx context.Context, actor domain.Actor) error {
	var removed int
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		n, err := tx.Carts().DeleteByUser(ctx, actor.UserID)
		removed = n
		return err
	})

	s.afterWrite(ctx, "clear", actor.UserID, err)
	if err == nil {
		s.logger.WithFields(log.Fields{"user_id": actor.UserID, "removed": removed}).Debug("cart cleared")
	}
	return err
}

// Get возвращает строку корзины владельцу или администратору.
func (s *Service) Get(ctx context.Context, actor domain.Actor, lineID string) (domain.CartLine, error) {
	var line domain.CartLine
	err := s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		line, err = tx.Carts().Get(ctx, lineID)
		return err
	})
	if err != nil {
		return domain.CartLine{}, err
	}
	if !domain.CanAccessLine(actor, line) {
		return domain.CartLine{}, domain.ErrForbidden
	}
	return line, nil
}

// ListForUser возвращает корзину вызывающего, недавно изменённые строки первыми.
// Page.Size == 0 возвращает корзину целиком.
func (s *Service) ListForUser(ctx context.Context, actor domain.Actor, page domain.Page) ([]domain.CartLine, error) {
	if page.Page < 0 {
		page.Page = 0
	}
	if page.Size < 0 {
		page.Size = 0
	}
	if page.Size > domain.MaxPageSize {
		page.Size = domain.MaxPageSize
	}

	cached, ok, err := s.cache.Get(ctx, actor.UserID, page)
	switch {
	case err != nil:
		s.metrics.RecordCacheLookup("error")
		s.logger.WithError(err).WithField("user_id", actor.UserID).Warn("cart cache lookup failed")
	case ok:
		s.metrics.RecordCacheLookup("hit")
		return cached, nil
	default:
		s.metrics.RecordCacheLookup("miss")
	}

	gen, genErr := s.cache.Generation(ctx, actor.UserID)
	if genErr != nil {
		s.logger.WithError(genErr).WithField("user_id", actor.UserID).Warn("cart cache generation lookup failed")
	}

	var lines []domain.CartLine
	err = s.uow.View(ctx, func(tx domain.Tx) error {
		var err error
		lines, err = tx.Carts().ListByUser(ctx, actor.UserID, page)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Без известного поколения страница не кешируется.
	if genErr != nil {
		return lines, nil
	}
	if err := s.cache.Set(ctx, actor.UserID, gen, page, lines); err != nil {
		s.logger.WithError(err).WithField("user_id", actor.UserID).Warn("cart cache store failed")
	}
	return lines, nil
}

// ResnapshotPrices переписывает снимок цены во всех строках корзин с товаром
// на текущую цену каталога и возвращает цену, к которой привёл строки.
// Порядок строк в корзине не меняется: UpdatedAt не трогается.
func (s *Service) ResnapshotPrices(ctx context.Context, productID string) (int, int64, error) {
	users := make(map[string]struct{})
	var (
		repriced int
		price    int64
	)
	err := s.retrier.Do(ctx, "cart_resnapshot", func() error {
		repriced = 0
		clear(users)
		return s.uow.Do(ctx, func(tx domain.Tx) error {
			// Цена читается после блокировки строк: запуск, опоздавший за
			// более новой сменой цены, увидит её, а не откатит корзины назад.
			lines, err := tx.Carts().LockByProduct(ctx, productID)
			if err != nil {
				return err
			}
			product, err := tx.Products().Get(ctx, productID)
			if err != nil {
				return err
			}
			price = product.Price
			for _, line := range lines {
				if line.Price == price {
					continue
				}
				line.Reprice(price)
				if err := tx.Carts().Update(ctx, line); err != nil {
					return err
				}
				users[line.UserID] = struct{}{}
				repriced++
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, fmt.Errorf("resnapshot prices for product %s: %w", productID, err)
	}

	s.metrics.RecordRepricedLines(repriced)
	if len(users) > 0 {
		ids := make([]string, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		s.invalidate(ctx, ids...)
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"price":      price,
		"lines":      repriced,
	}).Info("cart prices re-snapshotted")
	return repriced, price, nil
}

// InvalidateUser сбрасывает кеш корзины пользователя после записи в обход сервиса.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	s.invalidate(ctx, userID)
}

func (s *Service) afterWrite(ctx context.Context, op, userID string, err error) {
	s.metrics.RecordCartOperation(op, resultOf(err))
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"op": op, "user_id": userID}).Debug("cart operation rejected")
		return
	}
	s.invalidate(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		s.logger.WithError(err).WithField("users", userIDs).Warn("cart cache invalidation failed")
	}
}

func requireActiveUser(ctx context.Context, tx domain.Tx, userID string) error {
	user, err := tx.Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return domain.ErrUserDeactivated
	}
	return nil
}

func activeProduct(ctx context.Context, tx domain.Tx, productID string) (domain.Product, error) {
	product, err := tx.Products().Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.IsActive {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, domain.ErrInvalidProduct)
	}
	return product, nil
}

func checkStock(product domain.Product, quantity int) error {
	if !product.HasStock(quantity) {
		return fmt.Errorf("product %s: requested %d, available %d: %w",
			product.ID, quantity, product.Quantity, domain.ErrCapacityExceeded)
	}
	return nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}
