package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ShopMetrics содержит метрики корзины и жизненного цикла заказов.
// Методы безопасно вызывать на nil: сервисы в тестах работают без метрик.
type ShopMetrics struct {
	// Заказы
	ordersCreated      prometheus.Counter
	createDuration     *prometheus.HistogramVec
	checkoutRejections *prometheus.CounterVec
	statusTransitions  *prometheus.CounterVec
	stockRetries       *prometheus.CounterVec

	// Корзина
	cartOperations *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	repricedLines  prometheus.Counter

	// Побочные записи
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Relay outbox
	outboxPublishes *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	// Ключи идемпотентности
	idempotencyCleanupRuns *prometheus.CounterVec
	idempotencyKeysDeleted prometheus.Counter
}

// NewShopMetrics регистрирует метрики в глобальном реестре.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Total number of orders created from carts",
		}),
		createDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_create_order_duration_seconds",
			Help:    "Duration of order creation including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"result"}),
		checkoutRejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_checkout_rejections_total",
			Help: "Order creations rejected by validation, grouped by reason",
		}, []string{"reason"}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_status_transitions_total",
			Help: "Applied order status transitions",
		}, []string{"from", "to"}),
		stockRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_contention_retries_total",
			Help: "Unit of work retries caused by concurrent stock or order modification",
		}, []string{"operation"}),
		cartOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_cart_operations_total",
			Help: "Cart operations grouped by operation and result",
		}, []string{"op", "result"}),
		cacheLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_cart_cache_lookups_total",
			Help: "Cart listing cache lookups grouped by result",
		}, []string{"result"}),
		repricedLines: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_cart_lines_repriced_total",
			Help: "Cart lines re-snapshotted after a product price change",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		outboxPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_publish_attempts_total",
			Help: "Outbox relay publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		}),
		idempotencyCleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_runs_total",
			Help: "Idempotency key cleanup runs grouped by result",
		}, []string{"result"}),
		idempotencyKeysDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_idempotency_keys_deleted_total",
			Help: "Expired idempotency keys removed by cleanup",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *ShopMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// ObserveCreateOrder записывает длительность оформления заказа.
func (m *ShopMetrics) ObserveCreateOrder(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.createDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCheckoutRejected учитывает отказ в оформлении.
func (m *ShopMetrics) RecordCheckoutRejected(reason string) {
	if m == nil {
		return
	}
	m.checkoutRejections.WithLabelValues(reason).Inc()
}

// RecordTransition учитывает применённый переход статуса.
func (m *ShopMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordStockRetry учитывает повтор транзакции из-за конкурентного изменения.
func (m *ShopMetrics) RecordStockRetry(operation string) {
	if m == nil {
		return
	}
	m.stockRetries.WithLabelValues(operation).Inc()
}

// RecordCartOperation учитывает операцию над корзиной.
func (m *ShopMetrics) RecordCartOperation(op, result string) {
	if m == nil {
		return
	}
	m.cartOperations.WithLabelValues(op, result).Inc()
}

// RecordCacheLookup учитывает обращение к кешу корзины: hit, miss или error.
func (m *ShopMetrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordRepricedLines учитывает строки корзины с обновлённым снимком цены.
func (m *ShopMetrics) RecordRepricedLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repricedLines.Add(float64(n))
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ShopMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ShopMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordIdempotencyCleanup учитывает прогон очистки ключей идемпотентности.
func (m *ShopMetrics) RecordIdempotencyCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.idempotencyCleanupRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.idempotencyKeysDeleted.Add(float64(deleted))
	}
}

// RecordOutboxPublish учитывает попытку relay: sent, retry, failed, breaker_open.
func (m *ShopMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(result).Inc()
}

// SetOutboxBacklog выставляет размер backlog outbox и возраст самой старой записи.
func (m *ShopMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(max(oldestAge.Seconds(), 0))
}
