// Package routing builds the citegate HTTP router from configuration. It
// implements versioned API routing, per-route middleware, health checks and
// the metrics endpoint.
package routing

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/errors"
	"github.com/teilomillet/citegate/server/metrics"
	"github.com/teilomillet/citegate/server/middleware"
	"github.com/teilomillet/citegate/server/provider"
	"go.uber.org/zap"
)

// ProviderHealth reports the health of the LLM providers behind /v1/cite.
// *provider.Manager implements it.
type ProviderHealth interface {
	HealthSnapshot() map[string]provider.HealthStatus
	HealthyCount() int
}

var _ ProviderHealth = (*provider.Manager)(nil)

// Dependencies are the shared components routes are wired to. Every field
// is optional.
type Dependencies struct {
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	Queue       *middleware.QueueMiddleware
	Providers   ProviderHealth
}

// Router handles dynamic HTTP routing with versioning and health checks.
type Router struct {
	router      chi.Router
	handlers    map[string]http.Handler
	healthState sync.Map // route path -> bool
	logger      *zap.Logger
	cfg         *config.Config
	deps        Dependencies

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRouter creates a new router with the given configuration. Route health
// checks run in the background until Close is called.
func NewRouter(cfg *config.Config, handlers map[string]http.Handler, deps Dependencies, logger *zap.Logger) *Router {
	r := &Router{
		router:   chi.NewRouter(),
		handlers: handlers,
		logger:   logger,
		cfg:      cfg,
		deps:     deps,
		stop:     make(chan struct{}),
	}
	if r.deps.RateLimiter == nil {
		r.deps.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit, deps.Metrics)
	}

	for _, route := range cfg.Routes {
		if route.HealthCheck != nil && route.HealthCheck.Enabled {
			r.healthState.Store(route.Path, true)
		}
	}

	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.Recovery(logger))
	r.router.Use(middleware.Logging(logger))
	if deps.Metrics != nil {
		r.router.Use(middleware.PrometheusMetrics(deps.Metrics))
	}
	r.router.Use(middleware.CORS)
	r.router.Use(middleware.RequestTimer)

	r.router.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewError(errors.NotFoundError, "Route not found",
			http.StatusNotFound, middleware.GetRequestID(req.Context()),
			map[string]interface{}{"path": req.URL.Path}, nil))
	})
	r.router.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewError(errors.ValidationError, "Method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(req.Context()),
			map[string]interface{}{"method": req.Method}, nil))
	})

	r.setupRoutes()
	return r
}

// setupRoutes mounts every configured route under its version prefix with
// its middleware, header checks, method restrictions and health endpoint.
func (r *Router) setupRoutes() {
	for _, route := range r.cfg.Routes {
		route := route
		handler, ok := r.handlers[route.Handler]
		if !ok {
			r.logger.Error("handler not found", zap.String("handler", route.Handler))
			continue
		}

		path := route.Path
		if route.Version != "" {
			path = fmt.Sprintf("/%s%s", route.Version, path)
		}

		r.router.Group(func(router chi.Router) {
			if limit := r.cfg.Server.MaxBodyBytes; limit > 0 {
				router.Use(bodyLimit(limit))
			}

			for _, mw := range route.Middleware {
				switch mw {
				case "auth":
					router.Use(middleware.Authentication(r.cfg.Server.APIKeys))
				case "ratelimit":
					router.Use(r.deps.RateLimiter.Handler)
				default:
					r.logger.Warn("unknown middleware requested", zap.String("middleware", mw))
				}
			}

			if len(route.Headers) > 0 {
				router.Use(requireHeaders(route.Headers))
			}

			if r.deps.Queue != nil {
				router.Use(r.deps.Queue.Handler)
			}
			if timeout := r.cfg.Server.RequestTimeout; timeout > 0 {
				router.Use(middleware.Timeout(timeout))
			}

			methods := route.Methods
			if len(methods) == 0 {
				methods = []string{http.MethodPost}
			}
			for _, method := range methods {
				router.Method(method, path, handler)
			}
		})

		if route.HealthCheck != nil && route.HealthCheck.Enabled {
			r.router.Get(path+"/health", r.healthCheckHandler(route))
			r.wg.Add(1)
			go r.startHealthCheck(route)
		}
	}

	r.router.Get("/health", r.globalHealthCheckHandler())
	if r.deps.Metrics != nil {
		RegisterMetricsRoutes(r.router, r.deps.Metrics)
	}
}

func bodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Body = http.MaxBytesReader(w, req.Body, limit)
			next.ServeHTTP(w, req)
		})
	}
}

func requireHeaders(headers map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			for key, value := range headers {
				if req.Header.Get(key) != value {
					errors.WriteError(w, errors.NewValidationError(
						middleware.GetRequestID(req.Context()),
						fmt.Sprintf("missing or invalid header: %s", key),
						map[string]interface{}{"header": key},
					))
					return
				}
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *Router) routeHealthy(path string) bool {
	v, ok := r.healthState.Load(path)
	return !ok || v.(bool)
}

// healthCheckHandler reports one route's health: 200 when healthy, 503 otherwise.
func (r *Router) healthCheckHandler(route config.RouteConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if !r.routeHealthy(route.Path) {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status})
	}
}

// globalHealthCheckHandler aggregates route health and provider health. It
// answers 503 when a route is unhealthy or when providers are configured but
// none is healthy.
func (r *Router) globalHealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		allHealthy := true
		statuses := make(map[string]string)

		r.healthState.Range(func(key, value interface{}) bool {
			path := key.(string)
			if value.(bool) {
				statuses[path] = "healthy"
			} else {
				allHealthy = false
				statuses[path] = "unhealthy"
			}
			return true
		})

		body := map[string]interface{}{
			"services": statuses,
		}
		if r.deps.Providers != nil {
			snapshot := r.deps.Providers.HealthSnapshot()
			if len(snapshot) > 0 && r.deps.Providers.HealthyCount() == 0 {
				allHealthy = false
			}
			body["providers"] = snapshot
		}
		body["status"] = map[string]bool{"global": allHealthy}

		code := http.StatusOK
		if !allHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	}
}

// startHealthCheck runs the route's checks on its interval. A route turns
// unhealthy after Threshold consecutive failed rounds and healthy again after
// one passing round.
func (r *Router) startHealthCheck(route config.RouteConfig) {
	defer r.wg.Done()

	interval := route.HealthCheck.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	threshold := route.HealthCheck.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		if r.runChecks(route) {
			failures = 0
			r.healthState.Store(route.Path, true)
			continue
		}
		failures++
		if failures >= threshold {
			if r.routeHealthy(route.Path) {
				r.logger.Warn("route unhealthy",
					zap.String("path", route.Path),
					zap.Int("failures", failures))
			}
			r.healthState.Store(route.Path, false)
		}
	}
}

// runChecks runs every configured check and reports whether all passed.
func (r *Router) runChecks(route config.RouteConfig) bool {
	for name, checkType := range route.HealthCheck.Checks {
		var healthy bool
		switch checkType {
		case "http":
			healthy = r.checkHTTPHealth(route)
		case "tcp":
			healthy = r.checkTCPHealth(route)
		case "providers":
			healthy = r.deps.Providers == nil || r.deps.Providers.HealthyCount() > 0
		default:
			r.logger.Warn("unknown health check type",
				zap.String("type", checkType),
				zap.String("check", name))
			continue
		}
		if !healthy {
			return false
		}
	}
	return true
}

func (r *Router) checkTimeout(route config.RouteConfig) time.Duration {
	if route.HealthCheck.Timeout > 0 {
		return route.HealthCheck.Timeout
	}
	return 5 * time.Second
}

// checkHTTPHealth asks the server's own /health endpoint.
func (r *Router) checkHTTPHealth(route config.RouteConfig) bool {
	client := &http.Client{Timeout: r.checkTimeout(route)}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", r.cfg.Server.Port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// checkTCPHealth verifies the server port accepts connections.
func (r *Router) checkTCPHealth(route config.RouteConfig) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", r.cfg.Server.Port), r.checkTimeout(route))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Close stops the route health checks.
func (r *Router) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// ServeHTTP implements the http.Handler interface.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
