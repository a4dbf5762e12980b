package http

import (
	"log/slog"
	"net/http"

	"github.com/EngLamisKhaled/Flashsale/internal/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Instrumentation wraps requests with metrics and serves the scrape endpoint.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type RouterConfig struct {
	Products    ProductService
	Holds       HoldCreator
	Orders      OrderService
	Payments    PaymentSettler
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     Instrumentation
	Health      HealthCheck
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(CORS(cfg.CORSOrigins))

	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", HealthHandler(cfg.Health))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Post("/products", HandleCreateProduct(cfg.Products, clk))
	r.Get("/products/{id}", HandleGetProduct(cfg.Products, clk))

	r.Post("/holds", HandleCreateHold(cfg.Holds, clk))

	r.Post("/orders", HandleCreateOrder(cfg.Orders, clk))
	r.Get("/orders/{id}", HandleGetOrder(cfg.Orders))

	r.Post("/payments/webhook", HandlePaymentWebhook(cfg.Payments, clk))

	return r
}
