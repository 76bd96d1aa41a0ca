package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/metadata"
	"github.com/pitabwire/concierge/internal/observability"
	"github.com/pitabwire/concierge/internal/table"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Tables       *metadata.TableProvider
	Fetcher      table.Fetcher
	Translations Translations
	// LocaleMatcher picks the catalog locale from the token claim and
	// Accept-Language. Nil keeps the claim as is.
	LocaleMatcher func(candidates ...string) string
	Metrics       *observability.Metrics
	Readiness     observability.ReadinessChecks
	Logger        *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness and metrics bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders())
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &tableHandlers{
		tables:       deps.Tables,
		fetcher:      deps.Fetcher,
		translations: deps.Translations,
		metrics:      deps.Metrics,
		cfg:          cfg.Table,
		logger:       logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(Localize(deps.LocaleMatcher))
		r.Use(RateLimit(cfg.Server.RateLimit))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/ui/tables", h.handleListTables)
		r.Get("/ui/tables/{tableId}", h.handleGetTable)
		r.Get("/ui/tables/{tableId}/data", h.handleGetTableData)
	})

	return r
}
