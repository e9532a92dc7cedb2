package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loomtale/loomtale/internal/auth"
	"github.com/loomtale/loomtale/internal/generation"
	"github.com/loomtale/loomtale/internal/observability"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
	"github.com/loomtale/loomtale/internal/shared"
	"github.com/loomtale/loomtale/internal/stats"
	"github.com/loomtale/loomtale/internal/users"
	"github.com/loomtale/loomtale/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	Authenticators    []auth.Authenticator
	RBACMiddleware    rbac.Middleware
	AuthHandler       *auth.Handler
	CatalogHandler    *rbac.CatalogHandler
	GenerationHandler *generation.Handler
	UsersHandler      *users.Handler
	StatsHandler      *stats.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with loomtale defaults. Everything but
// the health and metrics probes counts against the caller's role quota.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Authenticators: params.Authenticators,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	quota := rbac.NewRateLimiter(params.RBACMiddleware, time.Hour)
	r.Group(func(r chi.Router) {
		r.Use(quota.Handler)

		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.GenerationHandler != nil {
			r.Route("/generate", params.GenerationHandler.MountRoutes)
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireMinimumRole(policy.RoleModerator))
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.StatsHandler != nil {
				r.Route("/stats", params.StatsHandler.MountRoutes)
			}
		})
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
