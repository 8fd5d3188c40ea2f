package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/identity"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
)

// Dependencies — сервисы, которые обслуживает HTTP API.
type Dependencies struct {
	Carts       *cart.Service
	Orders      *order.Service
	Identity    *identity.Service
	Catalog     *catalog.Service
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry
	// RequestTimeout ограничивает обработку одного запроса; 0 — без ограничения.
	RequestTimeout time.Duration
	Now            func() time.Time
}

// NewRouter собирает маршруты /api/v1 и оборачивает их в otelhttp.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	carts := &cartHandler{carts: deps.Carts}
	orders := &orderHandler{orders: deps.Orders}
	admin := &adminHandler{identity: deps.Identity, catalog: deps.Catalog}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}
	r.Use(limitBody)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate(deps.Identity))

		r.Route("/cart", func(r chi.Router) {
			r.Post("/", carts.add)
			r.Get("/", carts.list)
			r.Delete("/", carts.clear)
			r.Get("/{id}", carts.get)
			r.Put("/{id}", carts.update)
			r.Delete("/{id}", carts.delete)
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(idempotent(deps.Idempotency, now)).Post("/", orders.create)
			r.Get("/", orders.listMine)
			r.Get("/{id}", orders.get)
			r.Get("/{id}/details", orders.details)
			r.Get("/{id}/timeline", orders.timeline)
			r.Put("/{id}", orders.updateLogistics)
			r.Patch("/{id}/status", orders.updateStatus)
			r.Patch("/{id}/active", orders.toggleActive)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/orders", orders.listAll)
			r.Put("/users/{id}", admin.upsertUser)
			r.Put("/products/{id}", admin.upsertProduct)
		})
	})

	return otelhttp.NewHandler(r, "shop-api")
}
