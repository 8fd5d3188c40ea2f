package order

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/retry"
)

// Service реализует оформление заказа и его жизненный цикл.
// Каждая операция выполняется в одной единице работы; конфликт с
// конкурентной транзакцией повторяется целиком через retry.Retrier.
type Service struct {
	uow       domain.UnitOfWork
	cartCache cart.Cache
	metrics   *metrics.ShopMetrics
	logger    *log.Entry
	now       func() time.Time
	retrier   *retry.Retrier
}

// Option настраивает Service.
type Option func(*options)

type options struct {
	cartCache cart.Cache
	metrics   *metrics.ShopMetrics
	logger    *log.Entry
	now       func() time.Time
	retry     retry.Config
}

// WithCartCache подключает кеш корзины, который сбрасывается после оформления.
func WithCartCache(c cart.Cache) Option {
	return func(o *options) { o.cartCache = c }
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

// WithClock подменяет источник времени. Даты доставки считаются от него.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRetryConfig задаёт политику повторов при конкурентных конфликтах.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// NewService создаёт сервис заказов.
func NewService(uow domain.UnitOfWork, opts ...Option) *Service {
	o := options{
		logger: log.New().WithField("component", "order"),
		now:    func() time.Time { return time.Now().UTC() },
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		uow:       uow,
		cartCache: o.cartCache,
		metrics:   o.metrics,
		logger:    o.logger,
		now:       o.now,
		retrier:   retry.New(o.retry, o.logger, o.metrics.RecordStockRetry),
	}
}
