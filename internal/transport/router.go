package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harborcs/taskmode/internal/config"
	"github.com/harborcs/taskmode/internal/definition"
	"github.com/harborcs/taskmode/internal/observability"
	"github.com/harborcs/taskmode/internal/session"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Sessions     *session.Registry
	Definitions  *definition.Registry
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	h := &Handlers{
		Sessions:    deps.Sessions,
		Definitions: deps.Definitions,
		Metrics:     deps.Metrics,
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, observability.Handler())

	// Authenticated routes.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)

		r.Get("/ui/taskmode/workflows", h.ListWorkflows)
		r.Get("/ui/taskmode/workflows/{workflowId}/dashboard", h.GetDashboard)

		r.Post("/ui/taskmode/sessions", h.StartSession)
		r.Route("/ui/taskmode/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/resume", h.ResumeSession)
			r.Post("/text", h.SendText)
			r.Post("/button", h.ClickButton)
			r.Post("/component", h.SetComponent)
			r.Post("/jump", h.JumpToSlide)
			r.Post("/reopen", h.Reopen)
			r.Post("/close", h.CloseSession)
		})
	})

	return r
}
