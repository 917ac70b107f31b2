package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/autumn-ma/django-culture/internal/http/handler"
	"github.com/autumn-ma/django-culture/internal/http/middleware"
	"github.com/autumn-ma/django-culture/internal/security"
)

// Dependencies bundles everything the router mounts. Rate limits are
// requests per minute; a zero limit disables that limiter.
type Dependencies struct {
	Eval   *handler.FlagEvalHandler
	Admin  *handler.FlagAdminHandler
	Auth   *handler.AuthHandler
	Health *handler.HealthHandler

	JWTManager  *security.JWTManager
	RateLimiter middleware.Limiter
	Idempotency *middleware.Idempotency

	EvalRateLimitRPM  int
	AdminRateLimitRPM int
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health/live", dep.Health.Live)
	r.Get("/health/ready", dep.Health.Ready)

	r.Route("/api/v1", func(api chi.Router) {
		if dep.Auth != nil {
			api.Post("/auth/refresh", dep.Auth.Refresh)
		}

		api.Group(func(eval chi.Router) {
			eval.Use(middleware.OptionalAuth(dep.JWTManager))
			if dep.RateLimiter != nil && dep.EvalRateLimitRPM > 0 {
				rl := middleware.NewRateLimiter(dep.RateLimiter, dep.EvalRateLimitRPM, time.Minute, middleware.FailOpen, "eval", middleware.SubjectOrIPKey(dep.JWTManager))
				eval.Use(rl.Middleware())
			}
			eval.Get("/flags/evaluate", dep.Eval.EvaluateAll)
			eval.Get("/flags/evaluate/{name}", dep.Eval.EvaluateOne)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.RequireAuth(dep.JWTManager))
			admin.Use(middleware.RequireRole("admin"))
			if dep.RateLimiter != nil && dep.AdminRateLimitRPM > 0 {
				rl := middleware.NewRateLimiter(dep.RateLimiter, dep.AdminRateLimitRPM, time.Minute, middleware.FailClosed, "admin", middleware.SubjectOrIPKey(dep.JWTManager))
				admin.Use(rl.Middleware())
			}
			if dep.Idempotency != nil {
				admin.Use(dep.Idempotency.Middleware())
			}

			admin.Get("/flags", dep.Admin.ListFlags)
			admin.Post("/flags", dep.Admin.CreateFlag)
			admin.Get("/flags/{id}", dep.Admin.GetFlag)
			admin.Put("/flags/{id}", dep.Admin.UpdateFlag)
			admin.Delete("/flags/{id}", dep.Admin.DeleteFlag)

			admin.Get("/flags/{id}/overrides", dep.Admin.ListOverrides)
			admin.Put("/flags/{id}/overrides", dep.Admin.SetOverride)
			admin.Delete("/flags/{id}/overrides/{user_id}", dep.Admin.DeleteOverride)

			admin.Get("/audit-logs", dep.Admin.ListAuditLogs)
			admin.Post("/archive", dep.Admin.Archive)
		})
	})

	return r
}
