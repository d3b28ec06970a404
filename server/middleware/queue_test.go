package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/citegate/server/metrics"
	"github.com/teilomillet/citegate/server/middleware"
)

// blockingHandler records the order requests start in and blocks each one
// until the test releases it.
type blockingHandler struct {
	mu      sync.Mutex
	order   []string
	started chan string
	release chan struct{}
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (h *blockingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Test-ID")
	h.mu.Lock()
	h.order = append(h.order, id)
	h.mu.Unlock()
	h.started <- id
	<-h.release
	w.WriteHeader(http.StatusOK)
}

func waitStarted(t *testing.T, h *blockingHandler) string {
	t.Helper()
	select {
	case id := <-h.started:
		return id
	case <-time.After(time.Second):
		t.Fatal("request did not start")
		return ""
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	m := metrics.NewMetrics()
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 2, MaxConcurrent: 1, Metrics: m})
	h := newBlockingHandler()
	handler := qm.Handler(h)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			codes[i] = rec.Code
		}(i)
	}

	waitStarted(t, h)
	eventually(t, func() bool { return qm.GetQueueSize() == 1 })
	assert.Equal(t, 1, qm.GetProcessing())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveRequests.WithLabelValues("queued")))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"queue_full"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("queue_full")))

	close(h.release)
	wg.Wait()
	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	assert.Equal(t, 0, qm.GetProcessing())
	assert.Equal(t, 0, qm.GetQueueSize())
}

func TestQueueIsFIFO(t *testing.T) {
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 10, MaxConcurrent: 1})
	h := newBlockingHandler()
	handler := qm.Handler(h)

	var wg sync.WaitGroup
	send := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("X-Test-ID", id)
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}

	send("first")
	require.Equal(t, "first", waitStarted(t, h))
	for i, id := range []string{"second", "third", "fourth"} {
		send(id)
		want := i + 1
		eventually(t, func() bool { return qm.GetQueueSize() == want })
	}

	for _, want := range []string{"second", "third", "fourth"} {
		h.release <- struct{}{}
		assert.Equal(t, want, waitStarted(t, h))
	}
	h.release <- struct{}{}
	wg.Wait()

	assert.Equal(t, []string{"first", "second", "third", "fourth"}, h.order)
}

func TestQueueCancelledWaiterIsSkipped(t *testing.T) {
	m := metrics.NewMetrics()
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 10, MaxConcurrent: 1, Metrics: m})
	h := newBlockingHandler()
	handler := qm.Handler(h)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Test-ID", "running")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}()
	waitStarted(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := httptest.NewRecorder()
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
		req.Header.Set("X-Test-ID", "cancelled")
		handler.ServeHTTP(cancelled, req)
	}()
	eventually(t, func() bool { return qm.GetQueueSize() == 1 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Test-ID", "patient")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}()
	eventually(t, func() bool { return qm.GetQueueSize() == 2 })

	cancel()
	eventually(t, func() bool { return qm.GetQueueSize() == 1 })

	h.release <- struct{}{}
	assert.Equal(t, "patient", waitStarted(t, h))
	h.release <- struct{}{}
	wg.Wait()

	assert.Equal(t, http.StatusServiceUnavailable, cancelled.Code)
	assert.Equal(t, []string{"running", "patient"}, h.order)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("queue_abandoned")))
	assert.Equal(t, 0, qm.GetProcessing())
}

func TestQueueConcurrencyLimit(t *testing.T) {
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 10, MaxConcurrent: 2})
	h := newBlockingHandler()
	handler := qm.Handler(h)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
		}()
	}

	waitStarted(t, h)
	waitStarted(t, h)
	eventually(t, func() bool { return qm.GetQueueSize() == 1 })
	assert.Equal(t, 2, qm.GetProcessing())

	close(h.release)
	wg.Wait()
}

func TestQueuePositionInContext(t *testing.T) {
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 4, MaxConcurrent: 4})

	var position int
	handler := qm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		position = middleware.QueuePosition(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, 0, position)
	assert.Equal(t, -1, middleware.QueuePosition(context.Background()))
}

func TestQueueSetMaxSize(t *testing.T) {
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 4, MaxConcurrent: 1})
	assert.Equal(t, int64(4), qm.GetMaxSize())

	qm.SetMaxSize(0)
	rec := httptest.NewRecorder()
	qm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueueShutdown(t *testing.T) {
	qm := middleware.NewQueueMiddleware(middleware.QueueConfig{MaxSize: 4, MaxConcurrent: 1})
	h := newBlockingHandler()
	handler := qm.Handler(h)

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
		close(done)
	}()
	waitStarted(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, qm.Shutdown(ctx), context.DeadlineExceeded)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "closed queue admits nothing")

	close(h.release)
	<-done
	assert.NoError(t, qm.Shutdown(context.Background()))
}
