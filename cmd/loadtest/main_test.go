package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/identity"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
)

var _ shopAPI = (*shopClient)(nil)

// scriptedAPI по умолчанию отвечает успехом на подготовительные вызовы.
type scriptedAPI struct {
	createOrder func(userID, key string) (string, int, error)
	cancelOrder func(userID, orderID string) (int, error)
}

func (a *scriptedAPI) UpsertProduct(context.Context, string, productPayload, string) (int, error) {
	return http.StatusOK, nil
}

func (a *scriptedAPI) UpsertUser(context.Context, string, userPayload, string) (int, error) {
	return http.StatusOK, nil
}

func (a *scriptedAPI) AddToCart(context.Context, string, string, int) (int, error) {
	return http.StatusCreated, nil
}

func (a *scriptedAPI) CreateOrder(_ context.Context, userID, key string) (string, int, error) {
	if a.createOrder == nil {
		return "", 0, errors.New("unexpected CreateOrder")
	}
	return a.createOrder(userID, key)
}

func (a *scriptedAPI) CancelOrder(_ context.Context, userID, orderID string) (int, error) {
	if a.cancelOrder == nil {
		return 0, errors.New("unexpected CancelOrder")
	}
	return a.cancelOrder(userID, orderID)
}

// startShop поднимает HTTP API магазина на memory-хранилище с администратором root.
func startShop(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.NewStore()
	users := identity.NewService(store, nil)
	require.NoError(t, users.EnsureAdmin(context.Background(), "root"))

	carts := cart.NewService(store)
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Dependencies{
		Carts:       carts,
		Orders:      order.NewService(store),
		Identity:    users,
		Catalog:     catalog.NewService(store, carts, nil),
		Idempotency: store.Idempotency(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseMode(t *testing.T) {
	m, err := parseMode(" checkout-cancel ")
	require.NoError(t, err)
	require.Equal(t, modeCheckoutCancel, m)

	_, err = parseMode("create-pay")
	require.ErrorContains(t, err, "unsupported mode")
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{
		"-addr=http://127.0.0.1:8080/",
		"-mode=checkout-cancel",
		"-total=12",
		"-concurrency=3",
		"-timeout=2s",
		"-admin=boss",
		"-product=sku-x",
		"-stock=7",
		"-quantity=2",
		"-user-tag=stage",
		"-output=out.json",
	}, io.Discard)
	require.NoError(t, err)

	require.Equal(t, "http://127.0.0.1:8080", opts.addr)
	require.Equal(t, modeCheckoutCancel, opts.mode)
	require.True(t, opts.totalSet)
	require.Equal(t, 12, opts.total)
	require.Equal(t, 3, opts.concurrency)
	require.Equal(t, 2*time.Second, opts.timeout)
	require.Equal(t, "boss", opts.adminID)
	require.Equal(t, "sku-x", opts.productID)
	require.Equal(t, 7, opts.stock)
	require.Equal(t, 2, opts.quantity)
	require.Equal(t, "out.json", opts.output)
}

func TestParseArgs_DurationMode(t *testing.T) {
	opts, err := parseArgs([]string{"-duration=3s", "-concurrency=2"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, opts.duration)
	require.False(t, opts.totalSet)
	require.Equal(t, modeCheckout, opts.mode)
	require.Equal(t, "duration:3s", opts.target())
}

func TestParseArgs_Invalid(t *testing.T) {
	tests := map[string]struct {
		args    []string
		wantErr string
	}{
		"bad duration":      {[]string{"-duration=bad"}, "invalid value"},
		"negative duration": {[]string{"-duration=-1s"}, "duration must be >= 0"},
		"bad mode":          {[]string{"-mode=pay"}, "unsupported mode"},
		"cancel rate":       {[]string{"-cancel-rate=101"}, "cancel-rate must be between 0 and 100"},
		"zero total":        {[]string{"-total=0"}, "total must be > 0"},
		"zero capped total": {[]string{"-duration=1s", "-total=0"}, "total must be > 0"},
		"zero quantity":     {[]string{"-quantity=0"}, "quantity must be > 0"},
		"negative stock":    {[]string{"-stock=-1"}, "stock must be >= 0"},
		"blank admin":       {[]string{"-admin= "}, "admin is required"},
		"blank addr":        {[]string{"-addr=/"}, "addr is required"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseArgs(tc.args, io.Discard)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestOptions_Scenarios(t *testing.T) {
	require.Equal(t, []int{0, 1, 2, 3, 4}, slices.Collect(options{total: 5}.scenarios()))

	capped := options{duration: time.Second, total: 3, totalSet: true}
	require.Equal(t, []int{0, 1, 2}, slices.Collect(capped.scenarios()))
	require.Equal(t, "duration:1s,max-total:3", capped.target())

	n := 0
	for range (options{duration: 20 * time.Millisecond, total: 1}).scenarios() {
		n++
		time.Sleep(time.Millisecond)
	}
	require.Greater(t, n, 1, "unset total does not cap a timed run")
}

func TestOptions_Cancels(t *testing.T) {
	require.True(t, options{mode: modeCheckoutCancel}.cancels(99))
	require.True(t, options{cancelRate: 10}.cancels(5))
	require.False(t, options{cancelRate: 10}.cancels(50))
	require.False(t, options{}.cancels(0))
}

func TestCollector_Report(t *testing.T) {
	c := newCollector()
	c.observe(scenarioSeries, 10*time.Millisecond, http.StatusOK)
	c.observe(scenarioSeries, 20*time.Millisecond, http.StatusInternalServerError)
	c.observe(scenarioSeries, 5*time.Millisecond, http.StatusBadRequest)
	c.observe("CreateOrder", 15*time.Millisecond, http.StatusCreated)
	c.observe("CreateOrder", 15*time.Millisecond, 0)
	c.soldOut.Add(1)
	c.unitsSold.Add(3)

	sc, ok := c.method(scenarioSeries)
	require.True(t, ok)
	require.Equal(t, int64(3), sc.Calls)
	require.Equal(t, int64(1), sc.Success)
	require.Equal(t, int64(2), sc.Failed)
	require.Equal(t, map[string]int64{"200": 1, "500": 1, "400": 1}, sc.Codes)

	create, _ := c.method("CreateOrder")
	require.Equal(t, int64(1), create.Codes[transportError])

	_, ok = c.method("CancelOrder")
	require.False(t, ok)

	r := c.report(time.Now(), 2*time.Second, 2)
	require.Equal(t, int64(3), r.TotalScenarios)
	require.Equal(t, int64(1), r.FailedScenarios, "sold out is not a failure")
	require.Equal(t, int64(1), r.SoldOutScenarios)
	require.True(t, r.Oversold, "3 units sold from stock 2")
	require.False(t, r.passed())
	require.InDelta(t, 1.5, r.RPS, 1e-9)
	require.InDelta(t, 20.0, r.ScenarioLatencyMs.Max, 1e-9)
}

func TestSummarize(t *testing.T) {
	require.Equal(t, latencySummary{}, summarize(nil))

	s := summarize([]time.Duration{40 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond})
	require.InDelta(t, 10.0, s.Min, 1e-9)
	require.InDelta(t, 40.0, s.Max, 1e-9)
	require.InDelta(t, 25.0, s.Avg, 1e-9)
	require.InDelta(t, 25.0, s.P50, 1e-9)
	require.InDelta(t, 38.5, s.P95, 1e-9)

	require.InDelta(t, 7.0, quantile([]float64{7}, 0.99), 1e-9)
	require.InDelta(t, 0.25, ratio(1, 4), 1e-9)
	require.Zero(t, ratio(1, 0))
}

func TestIsSoldOut(t *testing.T) {
	require.True(t, isSoldOut(&apiError{Status: 400, Code: httpapi.CodeCapacityExceeded}))
	require.False(t, isSoldOut(&apiError{Status: 400, Code: httpapi.CodeEmptyCart}))
	require.False(t, isSoldOut(errors.New("boom")))
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeReport(path, report{TotalScenarios: 2, SuccessScenarios: 2, Stock: 5}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, int64(2), decoded.TotalScenarios)
	require.Equal(t, 5, decoded.Stock)

	require.ErrorContains(t, writeReport("../outside.json", report{}), "inside current directory")
	require.ErrorContains(t, writeReport(".", report{}), "must point to a file")
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			scenarioSeries: {Calls: 2, Success: 2},
			"CreateOrder":  {Calls: 2, Success: 2},
			"AddToCart":    {Calls: 2, Success: 2},
		},
	}

	var out bytes.Buffer
	printReport(&out, r, options{mode: modeCheckout, total: 2})

	text := out.String()
	require.Contains(t, text, "Load test summary")
	require.Contains(t, text, "run=count:2")
	require.Contains(t, text, "oversold=false")
	require.Less(t, strings.Index(text, "AddToCart:"), strings.Index(text, "CreateOrder:"), "methods are sorted")
	require.NotContains(t, text, "scenario:")
}

func TestBuyer_Checkout(t *testing.T) {
	opts := options{mode: modeCheckoutCancel, quantity: 2, userTag: "load", adminID: "root", productID: "sku"}

	t.Run("checkout and cancel", func(t *testing.T) {
		api := &scriptedAPI{
			createOrder: func(userID, key string) (string, int, error) {
				require.Equal(t, "load-run-1-1", userID)
				require.Equal(t, "lt-create-run-1-1", key)
				return "order-1", http.StatusCreated, nil
			},
			cancelOrder: func(_, orderID string) (int, error) {
				require.Equal(t, "order-1", orderID)
				return http.StatusOK, nil
			},
		}
		b := buyer{api: api, opts: opts, runID: "run-1", col: newCollector()}

		require.NoError(t, b.checkout(context.Background(), 1))
		require.Zero(t, b.col.unitsSold.Load(), "cancelled order returns units")
		_, cancelled := b.col.method("CancelOrder")
		require.True(t, cancelled)
	})

	t.Run("sold out", func(t *testing.T) {
		api := &scriptedAPI{
			createOrder: func(string, string) (string, int, error) {
				return "", http.StatusBadRequest, &apiError{Status: http.StatusBadRequest, Code: httpapi.CodeCapacityExceeded}
			},
		}
		b := buyer{api: api, opts: opts, runID: "run-2", col: newCollector()}

		require.True(t, isSoldOut(b.checkout(context.Background(), 2)))
		require.Equal(t, int64(1), b.col.soldOut.Load())

		sc, _ := b.col.method(scenarioSeries)
		require.Equal(t, int64(1), sc.Codes["400"])
	})

	t.Run("empty order id", func(t *testing.T) {
		api := &scriptedAPI{
			createOrder: func(string, string) (string, int, error) { return "", http.StatusCreated, nil },
		}
		b := buyer{api: api, opts: opts, runID: "run-3", col: newCollector()}

		require.ErrorContains(t, b.checkout(context.Background(), 3), "empty order id")
		require.Zero(t, b.col.unitsSold.Load())
	})
}

func TestRun_ContestedStockNeverOversells(t *testing.T) {
	srv := startShop(t)

	opts := options{
		total:       20,
		concurrency: 8,
		mode:        modeCheckout,
		adminID:     "root",
		productID:   "hot-sku",
		stock:       5,
		price:       100,
		quantity:    1,
		userTag:     "race",
	}
	result, err := run(context.Background(), opts, newShopClient(srv.URL, 5*time.Second))
	require.NoError(t, err)

	require.Zero(t, result.FailedScenarios, "methods: %+v", result.Methods)
	require.Equal(t, int64(5), result.UnitsSold)
	require.False(t, result.Oversold)
	require.Equal(t, int64(20), result.SuccessScenarios+result.SoldOutScenarios, "every buyer either buys or sees sold out")
	require.True(t, result.passed())
}

func TestRun_CheckoutCancelRestoresStock(t *testing.T) {
	srv := startShop(t)

	opts := options{
		total:       6,
		concurrency: 3,
		mode:        modeCheckoutCancel,
		adminID:     "root",
		productID:   "returnable",
		stock:       2,
		price:       10,
		quantity:    1,
		userTag:     "cancel",
	}
	result, err := run(context.Background(), opts, newShopClient(srv.URL, 5*time.Second))
	require.NoError(t, err)
	require.Zero(t, result.UnitsSold)
	require.Zero(t, result.FailedScenarios, "methods: %+v", result.Methods)
}

func TestRun_UnknownAdminFails(t *testing.T) {
	srv := startShop(t)

	_, err := run(context.Background(), options{adminID: "nobody", productID: "p", total: 1, concurrency: 1}, newShopClient(srv.URL, time.Second))
	require.Error(t, err)
}
