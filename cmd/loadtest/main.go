// loadtest гоняет конкурентных покупателей за товаром с ограниченным
// остатком и проверяет, что магазин не продаёт больше, чем есть на складе.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutCancel loadMode = "checkout-cancel"
)

func parseMode(value string) (loadMode, error) {
	switch m := loadMode(strings.TrimSpace(value)); m {
	case modeCheckout, modeCheckoutCancel:
		return m, nil
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

type options struct {
	addr string
	// total ограничивает число сценариев; при заданном duration действует,
	// только если указан явно (totalSet).
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	adminID     string
	productID   string
	stock       int
	price       int64
	quantity    int
	userTag     string
	output      string
}

func parseArgs(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := options{mode: modeCheckout}
	fs.StringVar(&opts.addr, "addr", "http://localhost:8080", "shop HTTP API base URL")
	fs.IntVar(&opts.total, "total", 400, "scenarios to run; with -duration acts as an upper bound when set")
	fs.DurationVar(&opts.duration, "duration", 0, "run for this long instead of a fixed count (e.g. 10m)")
	fs.IntVar(&opts.concurrency, "concurrency", 40, "concurrent buyers")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.Func("mode", "checkout | checkout-cancel (default checkout)", func(v string) error {
		m, err := parseMode(v)
		opts.mode = m
		return err
	})
	fs.IntVar(&opts.cancelRate, "cancel-rate", 0, "percent of checkout scenarios that cancel the order (0..100)")
	fs.StringVar(&opts.adminID, "admin", "root", "administrator id (SHOP_BOOTSTRAP_ADMIN_ID of the service)")
	fs.StringVar(&opts.productID, "product", "load-sku", "contested product id")
	fs.IntVar(&opts.stock, "stock", 100, "stock of the contested product")
	fs.Int64Var(&opts.price, "price", 1000, "product price")
	fs.IntVar(&opts.quantity, "quantity", 1, "units bought per scenario")
	fs.StringVar(&opts.userTag, "user-tag", "load", "buyer id prefix")
	fs.StringVar(&opts.output, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	fs.Visit(func(f *flag.Flag) { opts.totalSet = opts.totalSet || f.Name == "total" })
	opts.addr = strings.TrimRight(strings.TrimSpace(opts.addr), "/")
	return opts, opts.validate()
}

func (o options) validate() error {
	switch {
	case o.addr == "":
		return errors.New("addr is required")
	case o.duration < 0:
		return errors.New("duration must be >= 0")
	case o.duration == 0 && o.total <= 0:
		return errors.New("total must be > 0 without -duration")
	case o.duration > 0 && o.totalSet && o.total <= 0:
		return errors.New("total must be > 0 when set together with -duration")
	case o.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case o.timeout <= 0:
		return errors.New("timeout must be > 0")
	case o.stock < 0:
		return errors.New("stock must be >= 0")
	case o.price < 0:
		return errors.New("price must be >= 0")
	case o.quantity <= 0:
		return errors.New("quantity must be > 0")
	case o.cancelRate < 0 || o.cancelRate > 100:
		return errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(o.adminID) == "":
		return errors.New("admin is required")
	case strings.TrimSpace(o.productID) == "":
		return errors.New("product is required")
	case strings.TrimSpace(o.userTag) == "":
		return errors.New("user-tag is required")
	}
	return nil
}

func (o options) target() string {
	switch {
	case o.duration <= 0:
		return "count:" + strconv.Itoa(o.total)
	case o.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", o.duration, o.total)
	default:
		return "duration:" + o.duration.String()
	}
}

// scenarios выдаёт номера сценариев, пока не исчерпан total или не истёк duration.
func (o options) scenarios() iter.Seq[int] {
	return func(yield func(int) bool) {
		var deadline time.Time
		if o.duration > 0 {
			deadline = time.Now().Add(o.duration)
		}
		for i := 0; ; i++ {
			if (deadline.IsZero() || o.totalSet) && i >= o.total {
				return
			}
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return
			}
			if !yield(i) {
				return
			}
		}
	}
}

// cancels решает, отменяет ли сценарий index оформленный заказ.
func (o options) cancels(index int) bool {
	if o.mode == modeCheckoutCancel {
		return true
	}
	return o.cancelRate > 0 && index%100 < o.cancelRate
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		exit("invalid arguments: %v", err)
	}

	result, err := run(context.Background(), opts, newShopClient(opts.addr, opts.timeout))
	if err != nil {
		exit("load test failed: %v", err)
	}

	printReport(os.Stdout, result, opts)
	if opts.output != "" {
		if err := writeReport(opts.output, result); err != nil {
			exit("write report: %v", err)
		}
	}
	if !result.passed() {
		os.Exit(1)
	}
}

func exit(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// run заводит товар с остатком opts.stock и выпускает на него покупателей.
func run(ctx context.Context, opts options, api shopAPI) (report, error) {
	product := productPayload{Name: "Load test product", Price: opts.price, Quantity: opts.stock}
	if _, err := api.UpsertProduct(ctx, opts.adminID, product, opts.productID); err != nil {
		return report{}, fmt.Errorf("prepare product %s: %w", opts.productID, err)
	}

	startedAt := time.Now()
	b := buyer{
		api:   api,
		opts:  opts,
		runID: fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:   newCollector(),
	}

	var g errgroup.Group
	g.SetLimit(opts.concurrency)
	for i := range opts.scenarios() {
		g.Go(func() error {
			// ошибка сценария уже учтена коллектором
			_ = b.checkout(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	return b.col.report(startedAt, time.Since(startedAt), opts.stock), nil
}

type buyer struct {
	api   shopAPI
	opts  options
	runID string
	col   *collector
}

// checkout: новый покупатель кладёт товар в корзину, оформляет заказ и,
// если так решил opts.cancels, отменяет его. Нехватка остатка считается
// ожидаемым исходом.
func (b buyer) checkout(ctx context.Context, index int) error {
	start := time.Now()
	status := 200
	defer func() { b.col.observe(scenarioSeries, time.Since(start), status) }()

	fail := func(code int, e error) error {
		status = code
		if isSoldOut(e) {
			b.col.soldOut.Add(1)
		}
		return e
	}

	n := strconv.Itoa(index)
	userID := fmt.Sprintf("%s-%s-%d", b.opts.userTag, b.runID, index)
	user := userPayload{
		FullName: "Load Buyer " + n,
		Email:    userID + "@load.test",
		Address:  "Load street " + n,
		Role:     "USER",
	}
	if code, err := b.col.measure("UpsertUser", func() (int, error) {
		return b.api.UpsertUser(ctx, b.opts.adminID, user, userID)
	}); err != nil {
		return fail(code, err)
	}

	if code, err := b.col.measure("AddToCart", func() (int, error) {
		return b.api.AddToCart(ctx, userID, b.opts.productID, b.opts.quantity)
	}); err != nil {
		return fail(code, err)
	}

	var orderID string
	if code, err := b.col.measure("CreateOrder", func() (int, error) {
		id, code, err := b.api.CreateOrder(ctx, userID, fmt.Sprintf("lt-create-%s-%d", b.runID, index))
		orderID = id
		return code, err
	}); err != nil {
		return fail(code, err)
	}
	if orderID == "" {
		return fail(500, errors.New("create response returned empty order id"))
	}
	b.col.unitsSold.Add(int64(b.opts.quantity))

	if !b.opts.cancels(index) {
		return nil
	}
	if code, err := b.col.measure("CancelOrder", func() (int, error) {
		return b.api.CancelOrder(ctx, userID, orderID)
	}); err != nil {
		return fail(code, err)
	}
	b.col.unitsSold.Add(-int64(b.opts.quantity))
	return nil
}
