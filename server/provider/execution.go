package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"github.com/teilomillet/citegate/server/circuitbreaker"
	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"go.uber.org/zap"
)

// defaultSharedTimeout bounds a shared upstream call when no request timeout
// is configured.
const defaultSharedTimeout = 2 * time.Minute

// Generate runs prompt on the first healthy provider in preference order.
//
// A provider failure is returned to the caller while that provider's breaker
// stays closed. Once the breaker opens the request moves on to the next
// provider, so failover happens only for providers that are known to be down.
//
// Identical concurrent prompts share one upstream call. The shared call runs
// detached from any single caller, so one caller leaving does not fail the
// others; each caller still returns as soon as its own ctx ends.
func (m *Manager) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	if prompt == nil {
		return "", fmt.Errorf("prompt cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := requestKey(prompt)
	var leader atomic.Bool
	ch := m.group.DoChan(key, func() (interface{}, error) {
		leader.Store(true)
		shared, cancel := m.sharedContext(ctx)
		defer cancel()
		return m.generate(shared, prompt, opts)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared && !leader.Load() {
			m.deduplicatedRequests.Inc()
			m.logger.Debug("Deduplicated provider request", zap.String("key", key))
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// sharedContext keeps ctx's values but not its cancellation, bounded by the
// server request timeout.
func (m *Manager) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := defaultSharedTimeout
	if m.cfg.Server.RequestTimeout > 0 {
		timeout = m.cfg.Server.RequestTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (m *Manager) generate(ctx context.Context, prompt *gollm.Prompt, opts []llm.GenerateOption) (string, error) {
	preference := m.Providers()
	if len(preference) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error
	for i, name := range preference {
		provider, breaker, status := m.getProviderResources(name)
		if provider == nil || breaker == nil || !status.Healthy {
			continue
		}

		start := time.Now()
		var out string
		err := breaker.ExecuteContext(ctx, func(ctx context.Context) error {
			var genErr error
			out, genErr = provider.Generate(ctx, prompt, opts...)
			return genErr
		})
		duration := time.Since(start)
		m.requestLatency.WithLabelValues(name).Observe(duration.Seconds())

		if err == nil {
			m.recordResult(name, status, duration, nil)
			return out, nil
		}

		lastErr = fmt.Errorf("provider %s: %w", name, err)
		if circuitbreaker.IsRejected(err) {
			m.logger.Debug("Circuit open, skipping provider", zap.String("provider", name))
			continue
		}

		// The context ending is not the provider's fault.
		if ctx.Err() != nil {
			m.logger.Debug("Provider request abandoned",
				zap.String("provider", name),
				zap.Error(err),
				zap.Duration("duration", duration))
			return "", lastErr
		}

		m.recordResult(name, status, duration, err)
		m.logger.Warn("Provider request failed",
			zap.String("provider", name),
			zap.Error(err),
			zap.Duration("duration", duration),
			zap.String("breaker_state", breaker.State().String()),
			zap.Uint32("consecutive_failures", breaker.Counts().ConsecutiveFailures))

		if breaker.State() == gobreaker.StateOpen && i < len(preference)-1 {
			continue
		}
		return "", lastErr
	}

	if lastErr == nil {
		return "", ErrNoHealthyProvider
	}
	return "", fmt.Errorf("%w: %v", ErrNoHealthyProvider, lastErr)
}

// recordResult updates request bookkeeping. Request failures do not mark a
// provider unhealthy; the breaker and health checks decide that.
func (m *Manager) recordResult(name string, prev HealthStatus, latency time.Duration, err error) {
	status := prev
	status.LastCheck = time.Now()
	status.Latency = latency
	status.RequestCount++
	if err != nil {
		status.ErrorCount++
		status.ConsecutiveFails++
	} else {
		status.ConsecutiveFails = 0
	}
	m.storeHealth(name, status)
}

// requestKey hashes every message so prompts that differ anywhere get
// separate upstream calls.
func requestKey(prompt *gollm.Prompt) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s", len(prompt.Input), prompt.Input)
	for _, msg := range prompt.Messages {
		fmt.Fprintf(h, "|%s|%d:%s", msg.Role, len(msg.Content), msg.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// getProviderResources safely retrieves provider-related resources
func (m *Manager) getProviderResources(name string) (Generator, *circuitbreaker.CircuitBreaker, HealthStatus) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	provider, exists := m.providers[name]
	if !exists {
		return nil, nil, HealthStatus{}
	}
	return provider, m.breakers[name], m.GetHealthStatus(name)
}
