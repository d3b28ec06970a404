package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue/v2"
	"github.com/teilomillet/citegate/errors"
	"github.com/teilomillet/citegate/server/metrics"
)

// queueContextKey is a custom type for queue-specific context keys to avoid collisions
type queueContextKey string

const queuePositionKey queueContextKey = "queue_position"

// ticket is handed to a waiting request. ready is closed when a processing
// slot has been transferred to it.
type ticket struct {
	ready     chan struct{}
	granted   bool
	abandoned bool
}

// QueueMiddleware admits at most maxConcurrent requests at a time and parks
// the rest in a FIFO queue. When a request finishes, its slot goes directly to
// the oldest waiter. Requests arriving while waiting plus processing already
// reaches maxSize are rejected with 503.
//
// A waiter whose context ends before it gets a slot is marked abandoned and
// skipped when slots are handed out; eapache/queue has no arbitrary removal.
type QueueMiddleware struct {
	mu            sync.Mutex
	queue         *queue.Queue[*ticket]
	maxSize       int64
	maxConcurrent int
	processing    int
	waiting       int
	metrics       *metrics.Metrics
	closed        bool
}

// QueueConfig defines the operational parameters for the queue middleware.
type QueueConfig struct {
	MaxSize       int64            // Upper bound on waiting + processing requests
	MaxConcurrent int              // Requests allowed to run at once
	Metrics       *metrics.Metrics // Optional
}

// NewQueueMiddleware initializes a new queue middleware with the given configuration.
func NewQueueMiddleware(cfg QueueConfig) *QueueMiddleware {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxSize < int64(cfg.MaxConcurrent) {
		cfg.MaxSize = int64(cfg.MaxConcurrent)
	}
	return &QueueMiddleware{
		queue:         queue.New[*ticket](),
		maxSize:       cfg.MaxSize,
		maxConcurrent: cfg.MaxConcurrent,
		metrics:       cfg.Metrics,
	}
}

// SetMaxSize updates the bound on waiting plus processing requests. It
// takes effect for the next arrival; requests already admitted are not evicted.
func (qm *QueueMiddleware) SetMaxSize(size int64) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.maxSize = size
}

// GetQueueSize returns how many requests are waiting for a slot.
func (qm *QueueMiddleware) GetQueueSize() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.waiting
}

// GetMaxSize returns the current maximum queue size.
func (qm *QueueMiddleware) GetMaxSize() int64 {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.maxSize
}

// GetProcessing returns the number of requests currently being processed.
func (qm *QueueMiddleware) GetProcessing() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.processing
}

// QueuePosition returns the number of requests that were ahead of this one
// when it arrived, or -1 outside the queue middleware.
func QueuePosition(ctx context.Context) int {
	if pos, ok := ctx.Value(queuePositionKey).(int); ok {
		return pos
	}
	return -1
}

// acquire returns a ticket when the caller has to wait, nil when it got a
// slot immediately, or ok=false when the queue is full or shut down.
func (qm *QueueMiddleware) acquire() (t *ticket, position int, ok bool) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if qm.closed || int64(qm.waiting+qm.processing) >= qm.maxSize {
		return nil, 0, false
	}

	position = qm.waiting
	if qm.waiting == 0 && qm.processing < qm.maxConcurrent {
		qm.processing++
		qm.updateGaugesLocked()
		return nil, position, true
	}

	t = &ticket{ready: make(chan struct{})}
	qm.queue.Add(t)
	qm.waiting++
	qm.updateGaugesLocked()
	return t, position, true
}

// release hands the caller's slot to the oldest live waiter, or frees it.
func (qm *QueueMiddleware) release() {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	for qm.queue.Length() > 0 {
		next := qm.queue.Remove()
		if next.abandoned {
			continue
		}
		next.granted = true
		qm.waiting--
		close(next.ready)
		qm.updateGaugesLocked()
		return
	}
	qm.processing--
	qm.updateGaugesLocked()
}

// abandon withdraws a waiter. It reports whether the slot had already been
// granted, in which case the caller owns it and must release it.
func (qm *QueueMiddleware) abandon(t *ticket) bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if t.granted {
		return true
	}
	t.abandoned = true
	qm.waiting--
	qm.updateGaugesLocked()
	return false
}

func (qm *QueueMiddleware) updateGaugesLocked() {
	if qm.metrics == nil {
		return
	}
	qm.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(qm.waiting))
	qm.metrics.ActiveRequests.WithLabelValues("processing").Set(float64(qm.processing))
}

// Handler manages the request lifecycle through the queue.
func (qm *QueueMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		t, position, ok := qm.acquire()
		if !ok {
			if qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_full").Inc()
			}
			errors.WriteError(w, errors.NewError(
				errors.QueueFullError,
				"Queue is full",
				http.StatusServiceUnavailable,
				requestID,
				map[string]interface{}{"max_size": qm.GetMaxSize()},
				nil,
			))
			return
		}

		if t != nil {
			select {
			case <-t.ready:
			case <-r.Context().Done():
				if qm.abandon(t) {
					qm.release()
				}
				if qm.metrics != nil {
					qm.metrics.ErrorsTotal.WithLabelValues("queue_abandoned").Inc()
				}
				errors.WriteError(w, errors.NewError(
					errors.QueueFullError,
					"Request cancelled while queued",
					http.StatusServiceUnavailable,
					requestID,
					nil,
					r.Context().Err(),
				))
				return
			}
		}
		defer qm.release()

		if qm.metrics != nil {
			qm.metrics.RequestDuration.WithLabelValues("queue_wait").Observe(time.Since(start).Seconds())
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), queuePositionKey, position)))
	})
}

// Shutdown stops admitting requests and waits for admitted ones to finish or
// for ctx to end.
func (qm *QueueMiddleware) Shutdown(ctx context.Context) error {
	qm.mu.Lock()
	qm.closed = true
	qm.mu.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		qm.mu.Lock()
		idle := qm.waiting == 0 && qm.processing == 0
		qm.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			if qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_shutdown_timeout").Inc()
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
