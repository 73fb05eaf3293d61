package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/bulkstore"
	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/catalog"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	"github.com/pharmacore/pharmacore/internal/dispense"
	"github.com/pharmacore/pharmacore/internal/observability"
	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/rbac"
	"github.com/pharmacore/pharmacore/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	RBAC   rbac.Middleware

	CatalogHandler      *catalog.Handler
	BulkStoreHandler    *bulkstore.Handler
	ActiveStoreHandler  *activestore.Handler
	DispensaryHandler   *dispensary.Handler
	PrescriptionHandler *prescription.Handler
	CartHandler         *cart.Handler
	DispenseHandler     *dispense.Handler

	BillingWebhook http.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with pharmacy defaults. Staff routes
// require a forwarded principal; webhooks, health and metrics do not.
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

	r.Group(func(r chi.Router) {
		r.Use(params.RBAC.Principal)

		r.Route("/catalog", params.CatalogHandler.MountRoutes)
		r.Route("/bulk-store", params.BulkStoreHandler.MountRoutes)
		r.Route("/active-stores", params.ActiveStoreHandler.MountRoutes)
		r.Route("/dispensaries", params.DispensaryHandler.MountRoutes)
		r.Route("/prescriptions", params.PrescriptionHandler.MountRoutes)
		r.Route("/carts", params.CartHandler.MountRoutes)
		r.Route("/dispense", params.DispenseHandler.MountRoutes)
	})

	if params.BillingWebhook != nil {
		r.Method(http.MethodPost, "/webhooks/billing/payment-recorded", params.BillingWebhook)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
