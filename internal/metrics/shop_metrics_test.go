package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var total float64
	for m := range ch {
		metric := &dto.Metric{}
		if err := m.Write(metric); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		total += metric.GetCounter().GetValue()
	}
	return total
}

func TestNewShopMetrics(t *testing.T) {
	m := NewShopMetricsWithRegisterer(prometheus.NewRegistry())

	if m.ordersCreated == nil || m.createDuration == nil || m.statusTransitions == nil {
		t.Fatal("order collectors must be initialised")
	}
	if m.cartOperations == nil || m.cacheLookups == nil || m.stockRetries == nil {
		t.Fatal("cart collectors must be initialised")
	}
}

func TestShopMetrics_ReRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewShopMetricsWithRegisterer(reg)
	second := NewShopMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	second.RecordOrderCreated()

	if got := counterValue(t, first.ordersCreated); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestShopMetrics_Record(t *testing.T) {
	m := NewShopMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordTransition("PENDING", "CANCELLED")
	m.RecordTransition("PENDING", "CANCELLED")
	m.RecordStockRetry("create_order")
	m.RecordCartOperation("add", "ok")
	m.RecordCacheLookup("hit")
	m.RecordRepricedLines(3)
	m.RecordRepricedLines(0)
	m.RecordCheckoutRejected("empty_cart")
	m.ObserveCreateOrder("ok", 15*time.Millisecond)

	if got := counterValue(t, m.statusTransitions.WithLabelValues("PENDING", "CANCELLED")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := counterValue(t, m.repricedLines); got != 3 {
		t.Fatalf("expected 3 repriced lines, got %v", got)
	}
	if got := counterValue(t, m.checkoutRejections.WithLabelValues("empty_cart")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
}

func TestShopMetrics_NilSafe(t *testing.T) {
	var m *ShopMetrics

	m.RecordOrderCreated()
	m.ObserveCreateOrder("ok", time.Second)
	m.RecordTransition("a", "b")
	m.RecordStockRetry("x")
	m.RecordCartOperation("add", "ok")
	m.RecordCacheLookup("miss")
	m.RecordRepricedLines(1)
	m.RecordCheckoutRejected("x")
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.RecordIdempotencyCleanup("ok", 1)
}

func TestShopMetrics_RecordIdempotencyCleanup(t *testing.T) {
	m := NewShopMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordIdempotencyCleanup("ok", 4)
	m.RecordIdempotencyCleanup("ok", 0)
	m.RecordIdempotencyCleanup("error", 1)

	if got := counterValue(t, m.idempotencyCleanupRuns.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok runs, got %v", got)
	}
	if got := counterValue(t, m.idempotencyKeysDeleted); got != 5 {
		t.Fatalf("expected 5 deleted keys, got %v", got)
	}
}

func TestShopMetrics_OutboxRelay(t *testing.T) {
	m := NewShopMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOutboxPublish("sent")
	m.RecordOutboxPublish("sent")
	m.RecordOutboxPublish("retry")
	m.SetOutboxBacklog(4, 90*time.Second)

	if got := counterValue(t, m.outboxPublishes.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent publishes, got %v", got)
	}

	metric := &dto.Metric{}
	if err := m.outboxOldestAge.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 90 {
		t.Fatalf("expected oldest age 90s, got %v", got)
	}

	m.SetOutboxBacklog(0, -time.Second)
	if err := m.outboxOldestAge.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 0 {
		t.Fatalf("negative age must clamp to 0, got %v", got)
	}
}
