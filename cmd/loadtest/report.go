package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	scenarioSeries = "scenario"
	transportError = "transport_error"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	SoldOutScenarios  int64                   `json:"sold_out_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	Stock             int                     `json:"stock"`
	UnitsSold         int64                   `json:"units_sold"`
	Oversold          bool                    `json:"oversold"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// passed сообщает, можно ли считать прогон успешным.
func (r report) passed() bool {
	return r.FailedScenarios == 0 && !r.Oversold
}

type series struct {
	calls   int64
	ok      int64
	codes   map[string]int64
	samples []time.Duration
}

func (s *series) report() methodReport {
	return methodReport{
		Calls:     s.calls,
		Success:   s.ok,
		Failed:    s.calls - s.ok,
		ErrorRate: ratio(s.calls-s.ok, s.calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: summarize(s.samples),
	}
}

// collector копит результаты вызовов со всех покупателей.
type collector struct {
	mu     sync.Mutex
	series map[string]*series

	soldOut   atomic.Int64
	unitsSold atomic.Int64
}

func newCollector() *collector {
	return &collector{series: make(map[string]*series)}
}

// observe учитывает вызов; status 0 означает ошибку транспорта.
func (c *collector) observe(name string, took time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[name]
	if s == nil {
		s = &series{codes: make(map[string]int64)}
		c.series[name] = s
	}
	s.calls++
	if status >= 200 && status < 300 {
		s.ok++
	}
	s.codes[statusLabel(status)]++
	s.samples = append(s.samples, took)
}

// measure вызывает call и учитывает его под именем name.
func (c *collector) measure(name string, call func() (int, error)) (int, error) {
	start := time.Now()
	status, err := call()
	c.observe(name, time.Since(start), status)
	return status, err
}

func (c *collector) method(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[name]
	if !ok {
		return methodReport{}, false
	}
	return s.report(), true
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration, stock int) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:        startedAt.UTC(),
		DurationSeconds:  elapsed.Seconds(),
		SoldOutScenarios: c.soldOut.Load(),
		Stock:            stock,
		UnitsSold:        c.unitsSold.Load(),
		Methods:          make(map[string]methodReport, len(c.series)),
	}
	r.Oversold = r.UnitsSold > int64(stock)

	for name, s := range c.series {
		r.Methods[name] = s.report()
	}
	// распроданный товар — ожидаемый исход сценария, а не ошибка
	if sc, ok := r.Methods[scenarioSeries]; ok {
		r.TotalScenarios = sc.Calls
		r.SuccessScenarios = sc.Success
		r.FailedScenarios = sc.Failed - r.SoldOutScenarios
		r.ErrorRate = ratio(r.FailedScenarios, sc.Calls)
		r.ScenarioLatencyMs = sc.LatencyMs
	}
	if elapsed > 0 {
		r.RPS = float64(r.TotalScenarios) / elapsed.Seconds()
	}
	return r
}

func statusLabel(status int) string {
	if status == 0 {
		return transportError
	}
	return strconv.Itoa(status)
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: quantile(ms, 0.50),
		P95: quantile(ms, 0.95),
		P99: quantile(ms, 0.99),
	}
}

// quantile интерполирует между соседними рангами отсортированной выборки.
func quantile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*(pos-float64(i))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func printReport(w io.Writer, r report, opts options) {
	fmt.Fprintln(w, "Load test summary")
	fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d sold_out=%d failed=%d error_rate=%.4f\n",
		opts.mode, opts.target(), r.TotalScenarios, r.SuccessScenarios, r.SoldOutScenarios, r.FailedScenarios, r.ErrorRate)
	fmt.Fprintf(w, "stock=%d units_sold=%d oversold=%t\n", r.Stock, r.UnitsSold, r.Oversold)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", r.DurationSeconds, r.RPS)

	l := r.ScenarioLatencyMs
	fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Avg, l.P50, l.P95, l.P99, l.Max)

	for _, name := range slices.Sorted(maps.Keys(r.Methods)) {
		if name == scenarioSeries {
			continue
		}
		m := r.Methods[name]
		fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}
}

// writeReport сохраняет JSON-отчёт; путь не должен выходить за текущий каталог.
func writeReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаёт оператор флагом -output
	f, err := os.Create(clean)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
