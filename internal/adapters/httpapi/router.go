package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gocrave/runner-api/internal/platform/metrics"
)

type RouterOptions struct {
	// AuthMiddleware authenticates API routes. Nil leaves every request anonymous,
	// which the runner service rejects as UNAUTHENTICATED.
	AuthMiddleware func(http.Handler) http.Handler
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// NewRouter constructs the API HTTP router.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(requestMetrics(opts.Metrics))
	r.Use(middleware.Recoverer)
	if opts.AuthMiddleware != nil {
		r.Use(opts.AuthMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Post("/v1/runners", s.ProvisionRunner)
	r.Get("/v1/runners/{runnerId}", s.GetRunner)
	return r
}
