package provider

import (
	"context"
	"time"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
)

// HealthStatus represents the current health state of a provider
type HealthStatus struct {
	Healthy          bool          `json:"healthy"`
	LastCheck        time.Time     `json:"last_check"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	Latency          time.Duration `json:"latency"`
	ErrorCount       int64         `json:"error_count"`
	RequestCount     int64         `json:"request_count"`
}

const defaultHealthCheckTimeout = 5 * time.Second

// StartHealthChecks probes every provider on the configured interval until
// ctx is cancelled or Close is called.
func (m *Manager) StartHealthChecks(ctx context.Context) {
	interval := time.Minute
	if hc := m.cfg.LLM.HealthCheck; hc != nil && hc.Interval > 0 {
		interval = hc.Interval
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.stopHealth, m.healthDone = cancel, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
}

// CheckAll probes every provider once and stores the results.
func (m *Manager) CheckAll(ctx context.Context) {
	for _, name := range m.Providers() {
		provider, _, _ := m.getProviderResources(name)
		if provider == nil {
			continue
		}
		m.storeHealth(name, m.checkProviderHealth(ctx, name, provider))
	}
}

// checkProviderHealth sends a minimal prompt. A provider turns unhealthy
// after FailureThreshold consecutive failed checks and healthy again on the
// first success.
func (m *Manager) checkProviderHealth(ctx context.Context, name string, g Generator) HealthStatus {
	timeout := defaultHealthCheckTimeout
	threshold := 1
	if hc := m.cfg.LLM.HealthCheck; hc != nil {
		if hc.Timeout > 0 {
			timeout = hc.Timeout
		}
		if hc.FailureThreshold > 0 {
			threshold = hc.FailureThreshold
		}
	}

	status := m.GetHealthStatus(name)
	start := time.Now()

	prompt := &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "user", Content: "health check"},
		},
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := g.Generate(checkCtx, prompt)
	status.Latency = time.Since(start)
	status.LastCheck = time.Now()
	status.RequestCount++
	m.healthCheckDuration.Observe(status.Latency.Seconds())

	if err != nil {
		status.ConsecutiveFails++
		status.ErrorCount++
		if status.ConsecutiveFails >= threshold {
			status.Healthy = false
		}
		m.healthCheckErrors.WithLabelValues(name).Inc()
		m.logger.Warn("Provider health check failed",
			zap.String("provider", name),
			zap.Error(err),
			zap.Duration("latency", status.Latency),
			zap.Int("consecutive_fails", status.ConsecutiveFails),
		)
		return status
	}

	if !status.Healthy {
		m.logger.Info("Provider recovered", zap.String("provider", name))
	}
	status.Healthy = true
	status.ConsecutiveFails = 0
	return status
}

// GetHealthStatus returns the health status for a provider
func (m *Manager) GetHealthStatus(name string) HealthStatus {
	if val, ok := m.healthStates.Load(name); ok {
		return val.(HealthStatus)
	}
	return HealthStatus{}
}

// UpdateHealthStatus overrides the health status for a provider.
func (m *Manager) UpdateHealthStatus(name string, status HealthStatus) {
	m.storeHealth(name, status)
}

// HealthSnapshot returns the status of every provider.
func (m *Manager) HealthSnapshot() map[string]HealthStatus {
	out := make(map[string]HealthStatus)
	for _, name := range m.Providers() {
		out[name] = m.GetHealthStatus(name)
	}
	return out
}

// HealthyCount returns how many providers are currently healthy.
func (m *Manager) HealthyCount() int {
	n := 0
	for _, status := range m.HealthSnapshot() {
		if status.Healthy {
			n++
		}
	}
	return n
}

func (m *Manager) storeHealth(name string, status HealthStatus) {
	m.healthStates.Store(name, status)
	if status.Healthy {
		m.healthyProviders.WithLabelValues(name).Set(1)
	} else {
		m.healthyProviders.WithLabelValues(name).Set(0)
	}
}
