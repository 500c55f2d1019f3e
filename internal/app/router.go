package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/payroll/internal/audit/http"
	liquidationhttp "github.com/odyssey-erp/payroll/internal/liquidation/http"
	noveltieshttp "github.com/odyssey-erp/payroll/internal/novelties/http"
	"github.com/odyssey-erp/payroll/internal/observability"
	periodshttp "github.com/odyssey-erp/payroll/internal/periods/http"
	stalenesshttp "github.com/odyssey-erp/payroll/internal/staleness/http"
	"github.com/odyssey-erp/payroll/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	PeriodsHandler     *periodshttp.Handler
	NoveltiesHandler   *noveltieshttp.Handler
	LiquidationHandler *liquidationhttp.Handler
	StalenessHandler   *stalenesshttp.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with payroll defaults.
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

	if params.PeriodsHandler != nil {
		params.PeriodsHandler.MountRoutes(r)
	}
	if params.NoveltiesHandler != nil {
		params.NoveltiesHandler.MountRoutes(r)
	}
	if params.LiquidationHandler != nil {
		params.LiquidationHandler.MountRoutes(r)
	}
	if params.StalenessHandler != nil {
		params.StalenessHandler.MountRoutes(r)
	}
	if params.AuditHandler != nil {
		params.AuditHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

// Router builds the HTTP API over the container's services.
func (c *Container) Router() http.Handler {
	return NewRouter(RouterParams{
		Logger:             c.Logger,
		Config:             c.Config,
		PeriodsHandler:     periodshttp.NewHandler(c.Logger, c.Periods),
		NoveltiesHandler:   noveltieshttp.NewHandler(c.Logger, c.Novelties),
		LiquidationHandler: liquidationhttp.NewHandler(c.Logger, c.Liquidation),
		StalenessHandler:   stalenesshttp.NewHandler(c.Logger, c.Reconciler),
		AuditHandler:       audithttp.NewHandler(c.Logger, c.Audit),
		JobHandler:         jobs.NewHandler(c.Inspector, c.Logger),
		Metrics:            c.Metrics,
	})
}
