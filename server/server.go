// Package server wires the citegate components into an HTTP server and keeps
// it in step with configuration changes.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/server/cache"
	"github.com/teilomillet/citegate/server/handlers"
	"github.com/teilomillet/citegate/server/metrics"
	"github.com/teilomillet/citegate/server/middleware"
	"github.com/teilomillet/citegate/server/processing"
	"github.com/teilomillet/citegate/server/provider"
	"github.com/teilomillet/citegate/server/routing"
	"github.com/teilomillet/citegate/server/validation"
	"go.uber.org/zap"
)

// Server represents the HTTP server
type Server struct {
	mu          sync.RWMutex
	httpServer  *http.Server
	serverErrs  chan error
	config      *config.Config
	watcher     config.Watcher
	ownsWatcher bool
	logger      *zap.Logger

	metrics  *metrics.Metrics
	llm      provider.Generator
	manager  *provider.Manager
	gen      *components
	retiring sync.WaitGroup
	retired  chan struct{}
}

// NewServer loads configPath, watches it for changes and builds the provider
// manager described by it.
func NewServer(configPath string, logger *zap.Logger) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	s, err := newServer(watcher, nil, logger)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	s.ownsWatcher = true
	return s, nil
}

// NewServerWithConfig creates a server on top of an existing watcher. When llm
// is nil, providers are built from the configuration.
func NewServerWithConfig(watcher config.Watcher, llm provider.Generator, logger *zap.Logger) (*Server, error) {
	return newServer(watcher, llm, logger)
}

func newServer(watcher config.Watcher, llm provider.Generator, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := watcher.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("config watcher returned no configuration")
	}

	s := &Server{
		config:     cfg,
		watcher:    watcher,
		logger:     logger,
		metrics:    metrics.NewMetrics(),
		llm:        llm,
		serverErrs: make(chan error, 1),
	}

	if s.llm == nil {
		manager, err := provider.NewManager(cfg, logger, s.metrics.Registry())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
		s.manager = manager
		s.llm = manager
	} else if m, ok := llm.(*provider.Manager); ok {
		s.manager = m
	}

	built, err := s.build(cfg)
	if err != nil {
		s.closeComponents()
		return nil, err
	}
	s.commit(built, cfg)
	return s, nil
}

// components are the per-configuration pieces swapped on reload. inflight
// counts requests still being served by this generation.
type components struct {
	router    *routing.Router
	cache     cache.Cache
	queue     *middleware.QueueMiddleware
	queueSize int64
	inflight  sync.WaitGroup
}

// build assembles handlers and middleware for cfg without touching the
// running server. The cache and queue are reused unless their settings change.
func (s *Server) build(cfg *config.Config) (*components, error) {
	prev := s.gen
	c := &components{}
	if prev != nil && prev.cache != nil && reflect.DeepEqual(s.config.Cache, cfg.Cache) {
		c.cache = prev.cache
	} else {
		fresh, err := cache.New(cfg.Cache, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		c.cache = fresh
	}

	if cfg.Queue.Enabled {
		c.queueSize = cfg.Queue.InitialSize
		if prev != nil && prev.queue != nil && s.config.Queue.MaxConcurrent == cfg.Queue.MaxConcurrent {
			c.queue = prev.queue
		} else {
			c.queue = middleware.NewQueueMiddleware(middleware.QueueConfig{
				MaxSize:       cfg.Queue.InitialSize,
				MaxConcurrent: cfg.Queue.MaxConcurrent,
				Metrics:       s.metrics,
			})
		}
	}

	processor, err := processing.NewProcessor(cfg.Processing, s.llm,
		processing.WithCache(c.cache, cfg.Cache.TTL),
		processing.WithLogger(s.logger),
	)
	if err != nil {
		if prev == nil || c.cache != prev.cache {
			closeCache(c.cache, s.logger)
		}
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	var counter *validation.TokenCounter
	if cfg.TestMode {
		counter = validation.NewTokenCounterFromTokenizer(validation.HeuristicTokenizer{})
	} else {
		counter = validation.NewTokenCounterWithFallback(cfg.LLM.Model, s.logger)
	}
	v := validation.NewValidator(counter, cfg.LLM.MaxContextTokens)

	routeHandlers := map[string]http.Handler{
		"convert": handlers.NewConvertHandler(v, s.metrics, s.logger),
		"cite":    handlers.NewCiteHandler(processor, v, s.metrics, s.logger),
	}

	deps := routing.Dependencies{
		Metrics:     s.metrics,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit, s.metrics),
		Queue:       c.queue,
	}
	if s.manager != nil {
		deps.Providers = s.manager
	}
	c.router = routing.NewRouter(cfg, routeHandlers, deps, s.logger)
	return c, nil
}

// commit installs c and returns the generation it replaces. New requests
// see c as soon as commit returns.
func (s *Server) commit(c *components, cfg *config.Config) *components {
	if c.queue != nil {
		c.queue.SetMaxSize(c.queueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.gen
	s.gen = c
	s.config = cfg
	return old
}

// retire waits up to timeout for requests still running on old, then closes
// its router and releases the queue and cache that next no longer uses.
func (s *Server) retire(old, next *components, timeout time.Duration) {
	drained := make(chan struct{})
	go func() {
		old.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		s.logger.Warn("Requests still running on retired configuration", zap.Duration("waited", timeout))
	}

	old.router.Close()
	if old.queue != nil && (next == nil || next.queue != old.queue) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := old.queue.Shutdown(ctx); err != nil {
			s.logger.Warn("Queued requests did not drain", zap.Error(err))
		}
		cancel()
	}
	if next == nil || next.cache != old.cache {
		closeCache(old.cache, s.logger)
	}
}

func closeCache(c cache.Cache, logger *zap.Logger) {
	if closer, ok := c.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
}

// ServeHTTP dispatches to the router built from the current configuration.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	gen := s.gen
	if gen != nil {
		gen.inflight.Add(1)
	}
	s.mu.RUnlock()
	if gen == nil {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer gen.inflight.Done()
	gen.router.ServeHTTP(w, r)
}

// Metrics returns the server's metrics collection.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// listen binds the configured port synchronously so that a bad port is
// reported to the caller, then serves in the background.
func (s *Server) listen(cfg config.ServerConfig) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Addr:           addr,
		Handler:        s,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		s.logger.Info("Server started", zap.String("address", addr))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case s.serverErrs <- fmt.Errorf("server error: %w", err):
			default:
			}
		}
	}()
	return nil
}

// Start serves HTTP and applies configuration updates until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	updates := s.watcher.Subscribe()

	if err := s.listen(s.currentConfig().Server); err != nil {
		s.closeComponents()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down server")
			return s.shutdown()

		case err := <-s.serverErrs:
			s.shutdown()
			return err

		case cfg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := s.applyConfig(cfg); err != nil {
				s.shutdown()
				return err
			}
		}
	}
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// applyConfig swaps in a router built from cfg. The listener is restarted
// only when server settings changed. A router that fails to build leaves the
// previous configuration in place; a listener that fails to bind is fatal.
func (s *Server) applyConfig(cfg *config.Config) error {
	old := s.currentConfig()
	if cfg == nil || cfg == old {
		return nil
	}

	if !reflect.DeepEqual(old.Providers, cfg.Providers) ||
		old.LLM.Provider != cfg.LLM.Provider || old.LLM.Model != cfg.LLM.Model {
		s.logger.Warn("Provider settings changed; restart the server to apply them")
	}

	built, err := s.build(cfg)
	if err != nil {
		s.logger.Error("Failed to apply configuration update", zap.Error(err))
		return nil
	}

	if prev := s.commit(built, cfg); prev != nil {
		// Retirements run in order so a shared cache outlives every
		// generation that uses it.
		timeout := shutdownTimeout(cfg.Server)
		before := s.retired
		done := make(chan struct{})
		s.retired = done
		s.retiring.Add(1)
		go func() {
			defer s.retiring.Done()
			defer close(done)
			if before != nil {
				<-before
			}
			s.retire(prev, built, timeout)
		}()
	}

	if reflect.DeepEqual(old.Server, cfg.Server) {
		s.logger.Info("Configuration reloaded")
		return nil
	}

	s.logger.Info("Server settings changed, restarting listener",
		zap.Int("old_port", old.Server.Port),
		zap.Int("new_port", cfg.Server.Port))
	if err := s.stopListener(old.Server); err != nil {
		s.logger.Warn("Previous listener did not stop cleanly", zap.Error(err))
	}
	return s.listen(cfg.Server)
}

func (s *Server) stopListener(cfg config.ServerConfig) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	return srv.Shutdown(ctx)
}

func shutdownTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}
	return 30 * time.Second
}

// shutdown drains the listener, then releases the current and any retiring
// configuration along with background workers.
func (s *Server) shutdown() error {
	err := s.stopListener(s.currentConfig().Server)
	if err != nil {
		err = fmt.Errorf("error during server shutdown: %w", err)
	}
	s.closeComponents()
	return err
}

func (s *Server) closeComponents() {
	s.retiring.Wait()

	s.mu.Lock()
	gen := s.gen
	s.gen = nil
	timeout := shutdownTimeout(s.config.Server)
	s.mu.Unlock()

	if gen != nil {
		s.retire(gen, nil, timeout)
	}
	if s.manager != nil {
		s.manager.Close()
	}
	if s.ownsWatcher {
		s.ownsWatcher = false
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("Failed to close config watcher", zap.Error(err))
		}
	}
}
