package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/server/circuitbreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager handles LLM provider management and selection
type Manager struct {
	providers    map[string]Generator
	breakers     map[string]*circuitbreaker.CircuitBreaker
	healthStates sync.Map // map[string]HealthStatus
	preference   []string
	logger       *zap.Logger
	cfg          *config.Config
	registry     *prometheus.Registry
	mu           sync.RWMutex
	group        singleflight.Group

	stopHealth context.CancelFunc
	healthDone chan struct{}

	// Metrics
	healthCheckDuration  prometheus.Histogram
	healthCheckErrors    *prometheus.CounterVec
	requestLatency       *prometheus.HistogramVec
	deduplicatedRequests prometheus.Counter
	healthyProviders     *prometheus.GaugeVec
}

// NewManager creates a provider manager. Providers are built from
// cfg.Providers, or from cfg.LLM and its backups when no named providers are
// configured. In test mode no providers are built; use SetProviders.
func NewManager(cfg *config.Config, logger *zap.Logger, registry *prometheus.Registry) (*Manager, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Manager{
		providers: make(map[string]Generator),
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
		logger:    logger,
		cfg:       cfg,
		registry:  registry,
	}

	if err := m.initializeMetrics(registry); err != nil {
		return nil, err
	}

	if !cfg.TestMode {
		if err := m.initializeProviders(context.Background()); err != nil {
			return nil, err
		}
	}

	m.preference = m.resolvePreference()

	if hc := cfg.LLM.HealthCheck; hc != nil && hc.Enabled && !cfg.TestMode {
		m.StartHealthChecks(context.Background())
	}

	return m, nil
}

// initializeProviders sets up LLM providers based on configuration
func (m *Manager) initializeProviders(ctx context.Context) error {
	for name, providerCfg := range m.cfg.Providers {
		g, err := NewGenerator(ctx, providerCfg, m.cfg.LLM.Options)
		if err != nil {
			return fmt.Errorf("failed to initialize provider %s: %w", name, err)
		}
		if err := m.addProvider(name, g); err != nil {
			return err
		}
	}

	if len(m.providers) > 0 || m.cfg.LLM.Provider == "" {
		return nil
	}

	primary, err := NewGenerator(ctx, config.ProviderConfig{
		Type:     m.cfg.LLM.Provider,
		Model:    m.cfg.LLM.Model,
		APIKey:   m.cfg.LLM.APIKey,
		Endpoint: m.cfg.LLM.Endpoint,
	}, m.cfg.LLM.Options)
	if err != nil {
		return fmt.Errorf("failed to initialize primary provider: %w", err)
	}
	if err := m.addProvider(m.cfg.LLM.Provider, primary); err != nil {
		return err
	}

	for _, backup := range m.cfg.LLM.BackupProviders {
		g, err := NewGenerator(ctx, config.ProviderConfig{
			Type:   backup.Provider,
			Model:  backup.Model,
			APIKey: backup.APIKey,
		}, m.cfg.LLM.Options)
		if err != nil {
			m.logger.Warn("Failed to initialize backup provider",
				zap.String("provider", backup.Provider),
				zap.Error(err))
			continue
		}
		if err := m.addProvider(backup.Provider, g); err != nil {
			return err
		}
	}

	return nil
}

// addProvider registers g under name with a fresh breaker and healthy status.
// The caller must hold m.mu or own m exclusively.
func (m *Manager) addProvider(name string, g Generator) error {
	m.providers[name] = g
	if _, ok := m.breakers[name]; !ok {
		cb, err := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
			Name:             name,
			MaxRequests:      m.cfg.CircuitBreaker.MaxRequests,
			Interval:         m.cfg.CircuitBreaker.Interval,
			Timeout:          m.cfg.CircuitBreaker.Timeout,
			FailureThreshold: m.cfg.CircuitBreaker.FailureThreshold,
			TestMode:         m.cfg.CircuitBreaker.TestMode || m.cfg.TestMode,
		}, m.logger.With(zap.String("provider", name)), m.registry)
		if err != nil {
			return fmt.Errorf("failed to create circuit breaker for %s: %w", name, err)
		}
		m.breakers[name] = cb
	}
	m.storeHealth(name, HealthStatus{Healthy: true})
	return nil
}

// resolvePreference returns the configured preference restricted to known
// providers, followed by any remaining providers in name order.
func (m *Manager) resolvePreference() []string {
	seen := make(map[string]bool, len(m.providers))
	order := make([]string, 0, len(m.providers))
	for _, name := range m.cfg.ProviderPreference {
		if _, ok := m.providers[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0)
	for name := range m.providers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// SetProviders replaces the current providers with new ones. Breakers are
// kept for names that survive and created for new names.
func (m *Manager) SetProviders(providers map[string]Generator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.providers {
		if _, ok := providers[name]; !ok {
			delete(m.breakers, name)
			m.healthStates.Delete(name)
			m.healthyProviders.DeleteLabelValues(name)
		}
	}
	m.providers = make(map[string]Generator, len(providers))
	for name, g := range providers {
		if err := m.addProvider(name, g); err != nil {
			return err
		}
	}
	m.preference = m.resolvePreference()
	return nil
}

// Providers returns the provider names in the order they are tried.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.preference...)
}

// Breaker returns the circuit breaker guarding name, or nil.
func (m *Manager) Breaker(name string) *circuitbreaker.CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// Close stops background health checks.
func (m *Manager) Close() {
	m.mu.Lock()
	stop, done := m.stopHealth, m.healthDone
	m.stopHealth, m.healthDone = nil, nil
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}
