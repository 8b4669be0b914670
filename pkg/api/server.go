package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// maxBodyBytes bounds request bodies; every request body here is a few fields
	maxBodyBytes = 1 << 20

	// DefaultUpdateAllTimeout bounds an update-all pass started over HTTP
	DefaultUpdateAllTimeout = time.Hour
)

// Server is the plugin management API
type Server struct {
	router       *mux.Router
	orchestrator *lifecycle.Orchestrator
	registry     *marketplace.Client
	resolver     *marketplace.Resolver
	scheduler    *lifecycle.Scheduler
	health       *observability.HealthChecker
	metrics      *observability.Metrics
	promRegistry *prometheus.Registry
	log          *logrus.Logger

	updateAllTimeout time.Duration

	mu          sync.Mutex
	updating    bool
	lastUpdate  time.Time
	lastResults []lifecycle.UpdateResult
}

// Option configures a Server
type Option func(*Server)

// WithHealthChecker serves /health/live and /health/ready
func WithHealthChecker(health *observability.HealthChecker) Option {
	return func(s *Server) {
		s.health = health
	}
}

// WithMetrics instruments requests and serves /metrics from registry
func WithMetrics(metrics *observability.Metrics, registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = metrics
		s.promRegistry = registry
	}
}

// WithScheduler runs update-all passes through the scheduler so they share
// its overlap guard
func WithScheduler(scheduler *lifecycle.Scheduler) Option {
	return func(s *Server) {
		s.scheduler = scheduler
	}
}

// WithUpdateAllTimeout bounds update-all passes started over HTTP
func WithUpdateAllTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.updateAllTimeout = timeout
		}
	}
}

// NewServer creates a new API server
func NewServer(orchestrator *lifecycle.Orchestrator, registry *marketplace.Client, resolver *marketplace.Resolver, log *logrus.Logger, opts ...Option) *Server {
	if log == nil {
		log = logrus.New()
	}

	s := &Server{
		router:           mux.NewRouter(),
		orchestrator:     orchestrator,
		registry:         registry,
		resolver:         resolver,
		log:              log,
		updateAllTimeout: DefaultUpdateAllTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))

	// Store routes
	s.router.HandleFunc("/api/v1/plugins/store", s.listStore).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/store/{id}", s.getStorePlugin).Methods("GET")

	// Installed plugin routes
	s.router.HandleFunc("/api/v1/plugins/installed", s.listInstalled).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/statuses", s.listStatuses).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/install", s.installPlugin).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/install-from-url", s.installFromURL).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/update-all", s.updateAll).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/update-all", s.lastUpdateRun).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/{id}/status", s.pluginStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/{id}/update", s.updatePlugin).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/{id}", s.uninstallPlugin).Methods("DELETE")

	if s.health != nil {
		s.router.HandleFunc("/health/live", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.health.Readiness).Methods("GET")
	}
	if s.promRegistry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.promRegistry)).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "no route for "+r.URL.Path)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with tracing, request ids, logging and
// panic recovery
func (s *Server) Handler() http.Handler {
	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware(s.log),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(s.router)
	return otelhttp.NewHandler(handler, "ledmatrix-plugins-api")
}

// routeTemplate labels metrics by route pattern rather than raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
