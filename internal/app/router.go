package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/items"
	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/locations"
	"github.com/agrovia-erp/agrovia-erp/internal/observability"
	"github.com/agrovia-erp/agrovia-erp/internal/production"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
	"github.com/agrovia-erp/agrovia-erp/internal/transfer"
	"github.com/agrovia-erp/agrovia-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	StockHandler      *stock.Handler
	TransferHandler   *transfer.Handler
	ProductionHandler *production.Handler
	ItemsHandler      *items.Handler
	LocationsHandler  *locations.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/stock", params.StockHandler.MountRoutes)
	r.Route("/transfers", params.TransferHandler.MountRoutes)
	r.Route("/production/runs", params.ProductionHandler.MountRoutes)
	r.Route("/masterdata/items", params.ItemsHandler.MountRoutes)
	r.Route("/masterdata/locations", params.LocationsHandler.MountRoutes)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
