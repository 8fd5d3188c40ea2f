// Package health сводит проверки зависимостей сервиса в ответы
// /healthz, /readyz и /livez.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

// Probe проверяет одну зависимость; nil означает, что она доступна.
type Probe func(ctx context.Context) error

// Check — результат проверки одной зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type dependency struct {
	probe    Probe
	critical bool
}

// Handler хранит зарегистрированные зависимости и опрашивает их
// параллельно с общим таймаутом.
type Handler struct {
	mu      sync.RWMutex
	deps    map[string]dependency
	version string
	started time.Time
	timeout time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		deps:    make(map[string]dependency),
		version: version,
		started: time.Now(),
		timeout: defaultCheckTimeout,
	}
}

// Require регистрирует зависимость, без которой сервис не готов принимать
// запросы (хранилище).
func (h *Handler) Require(name string, probe Probe) {
	h.register(name, dependency{probe: probe, critical: true})
}

// Watch регистрирует зависимость, отказ которой лишь деградирует сервис:
// кеш корзины, брокер, очередь outbox.
func (h *Handler) Watch(name string, probe Probe) {
	h.register(name, dependency{probe: probe})
}

func (h *Handler) register(name string, dep dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[name] = dep
}

// Run опрашивает все зависимости. Упавшая критичная зависимость даёт
// unhealthy, некритичная — degraded.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	deps := make(map[string]dependency, len(h.deps))
	for name, dep := range h.deps {
		deps[name] = dep
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(deps))
		g      errgroup.Group
	)
	for name, dep := range deps {
		g.Go(func() error {
			check := dep.run(ctx, name)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Response{
		Status:        summarize(checks),
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

func (d dependency) run(ctx context.Context, name string) Check {
	start := time.Now()
	err := d.probe(ctx)
	check := Check{
		Name:       name,
		Status:     StatusHealthy,
		Critical:   d.critical,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

func summarize(checks map[string]Check) Status {
	overall := StatusHealthy
	for _, c := range checks {
		if c.Status == StatusHealthy {
			continue
		}
		if c.Critical {
			return StatusUnhealthy
		}
		overall = StatusDegraded
	}
	return overall
}

// ServeHTTP отдаёт полный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Run(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// BacklogProbe падает, когда очередь длиннее limit.
func BacklogProbe(pending func(ctx context.Context) (int, error), limit int) Probe {
	return func(ctx context.Context) error {
		n, err := pending(ctx)
		if err != nil {
			return err
		}
		if n > limit {
			return fmt.Errorf("backlog %d exceeds %d", n, limit)
		}
		return nil
	}
}
