package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/storekit/storesync/internal/server/cache"
	"github.com/storekit/storesync/internal/server/events"
	"github.com/storekit/storesync/internal/server/jwt"
	"github.com/storekit/storesync/internal/server/middleware"
	"github.com/storekit/storesync/internal/server/storage"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Logger          *slog.Logger
	Store           storage.Store
	Cache           *cache.TenantCache
	Hub             *events.Hub
	JWT             *jwt.Service
	Pinger          Pinger
	RateLimit       int
	RateLimitWindow time.Duration
}

// NewRouter wires the full API surface: health unauthenticated, everything
// else behind auth, rate limiting, logging and panic recovery.
func NewRouter(cfg RouterConfig) http.Handler {
	// Запись продажи двигает остатки и статистику: её инвалидация тянет
	// за собой производные листинги
	cfg.Cache.RegisterDerived("sales", "products", "stock-movements", "sales-stats")

	resources := NewResourceHandler(cfg.Logger, cfg.Store, cfg.Cache, cfg.Hub)
	sales := NewSalesHandler(cfg.Logger, cfg.Store, cfg.Cache, cfg.Hub)
	stock := NewStockHandler(cfg.Logger, cfg.Store, cfg.Cache, cfg.Hub)
	bulk := NewBulkHandler(cfg.Logger, cfg.Store, cfg.Cache, cfg.Hub)
	eventStream := NewEventsHandler(cfg.Logger, cfg.Hub)

	apiMux := http.NewServeMux()

	// Специализированные операции раньше generic-маршрутов
	apiMux.HandleFunc("POST /api/v1/sales", sales.Create)
	apiMux.HandleFunc("POST /api/v1/sales/{id}/void", sales.Void)
	apiMux.HandleFunc("PATCH /api/v1/products/{id}/stock", stock.Patch)
	apiMux.HandleFunc("POST /api/v1/transfer", stock.Transfer)
	apiMux.HandleFunc("GET /api/v1/events", eventStream.Stream)

	apiMux.HandleFunc("POST /api/v1/{resource}/bulk", bulk.Handle)
	apiMux.HandleFunc("GET /api/v1/{resource}", resources.List)
	apiMux.HandleFunc("POST /api/v1/{resource}", resources.Create)
	apiMux.HandleFunc("GET /api/v1/{resource}/{id}", resources.Get)
	apiMux.HandleFunc("PUT /api/v1/{resource}/{id}", resources.Update)
	apiMux.HandleFunc("DELETE /api/v1/{resource}/{id}", resources.Delete)

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 300
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	// Цепочка для API: auth -> rate limit (по tenant) -> handlers
	var protected http.Handler = apiMux
	protected = middleware.RateLimitMiddleware(rateLimit, window, cfg.Logger)(protected)
	protected = middleware.AuthMiddleware(cfg.Logger, cfg.JWT)(protected)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", NewHealthHandler(cfg.Logger, cfg.Pinger).Health)
	root.Handle("/api/v1/", protected)

	var handler http.Handler = root
	handler = middleware.LoggingWithSkip(cfg.Logger, []string{"/healthz"})(handler)
	handler = middleware.RecoveryMiddleware(cfg.Logger)(handler)
	return handler
}
