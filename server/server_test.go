package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/server/cache"
	"github.com/teilomillet/citegate/server/mocks"
	"github.com/teilomillet/citegate/server/processing"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap/zaptest"
)

const citationReply = `{"citations":[{"sentence_index":0,"key":"sky","cited_text":"the sky is blue"}]}`

func testConfig(port int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.TestMode = true
	cfg.Server.Port = port
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Server.APIKeys = []string{"secret"}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *mocks.MockConfigWatcher) {
	t.Helper()
	watcher := mocks.NewMockConfigWatcher(cfg)
	s, err := NewServerWithConfig(watcher, mocks.NewStaticLLM(citationReply), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.closeComponents)
	return s, watcher
}

func doRequest(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var authJSON = map[string]string{
	"Content-Type": "application/json",
	"X-API-Key":    "secret",
}

func TestServerRoutes(t *testing.T) {
	s, _ := newTestServer(t, testConfig(0))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
	}{
		{
			name:       "health",
			method:     http.MethodGet,
			path:       "/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "metrics",
			method:     http.MethodGet,
			path:       "/metrics",
			wantStatus: http.StatusOK,
		},
		{
			name:       "cite requires api key",
			method:     http.MethodPost,
			path:       "/v1/cite",
			body:       `{}`,
			headers:    map[string]string{"Content-Type": "application/json"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "convert",
			method:     http.MethodPost,
			path:       "/v1/convert",
			body:       `{"messages":[{"role":"user","content":"hello"}]}`,
			headers:    authJSON,
			wantStatus: http.StatusOK,
		},
		{
			name:       "convert rejects get",
			method:     http.MethodGet,
			path:       "/v1/convert",
			headers:    authJSON,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/v1/completions",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, tt.method, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestServerCite(t *testing.T) {
	s, _ := newTestServer(t, testConfig(0))

	rec := doRequest(s, http.MethodPost, "/v1/cite",
		`{"answer":"The sky is blue.","documents":[{"key":"sky","text":"On clear days the sky is blue."}]}`,
		authJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp processing.CitationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Content, 1)
	require.Len(t, resp.Content[0].Citations, 1)
	assert.Equal(t, 14, resp.Content[0].Citations[0].StartCharIndex)
	assert.Equal(t, 29, resp.Content[0].Citations[0].EndCharIndex)
}

func TestServerWithoutGeneratorUsesProviderManager(t *testing.T) {
	watcher := mocks.NewMockConfigWatcher(testConfig(0))
	s, err := NewServerWithConfig(watcher, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.closeComponents()

	require.NotNil(t, s.manager)

	rec := doRequest(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// No providers are built in test mode, so citing fails fast.
	rec = doRequest(s, http.MethodPost, "/v1/cite",
		`{"answer":"x","documents":[{"key":"a","text":"x"}]}`, authJSON)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}

func TestServerApplyConfig(t *testing.T) {
	cfg := testConfig(0)
	s, _ := newTestServer(t, cfg)
	require.Nil(t, s.gen.queue)

	t.Run("same config is ignored", func(t *testing.T) {
		router := s.gen.router
		require.NoError(t, s.applyConfig(cfg))
		assert.Same(t, router, s.gen.router)
	})

	t.Run("routes and queue follow the new config", func(t *testing.T) {
		updated := testConfig(0)
		updated.Queue.Enabled = true
		updated.Queue.InitialSize = 4
		updated.Queue.MaxConcurrent = 2
		updated.Routes = updated.Routes[1:] // drop /convert

		require.NoError(t, s.applyConfig(updated))
		require.NotNil(t, s.gen.queue)
		assert.Equal(t, int64(4), s.gen.queue.GetMaxSize())
		assert.Same(t, updated, s.currentConfig())

		rec := doRequest(s, http.MethodPost, "/v1/convert",
			`{"messages":[{"role":"user","content":"hello"}]}`, authJSON)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("queue resized in place", func(t *testing.T) {
		queue := s.gen.queue
		updated := testConfig(0)
		updated.Queue.Enabled = true
		updated.Queue.InitialSize = 8
		updated.Queue.MaxConcurrent = 2

		require.NoError(t, s.applyConfig(updated))
		assert.Same(t, queue, s.gen.queue)
		assert.Equal(t, int64(8), s.gen.queue.GetMaxSize())
	})

	t.Run("invalid processing template keeps previous router", func(t *testing.T) {
		router := s.gen.router
		previous := s.currentConfig()
		updated := testConfig(0)
		updated.Processing.CitationTemplate = "{{.Broken"

		require.NoError(t, s.applyConfig(updated))
		assert.Same(t, router, s.gen.router)
		assert.Same(t, previous, s.currentConfig())
	})
}

func TestServerReloadKeepsCacheForInflightRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(0)
	cfg.Cache.Enable = true
	cfg.Cache.Type = "redis"
	cfg.Cache.Redis = &config.RedisCacheConfig{Address: mr.Addr()}

	started := make(chan struct{})
	release := make(chan struct{})
	llm := mocks.NewMockLLM(func(context.Context, *gollm.Prompt) (string, error) {
		close(started)
		<-release
		return citationReply, nil
	})

	watcher := mocks.NewMockConfigWatcher(cfg)
	s, err := NewServerWithConfig(watcher, llm, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.closeComponents)

	oldCache, ok := s.gen.cache.(*cache.RedisCache)
	require.True(t, ok)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doRequest(s, http.MethodPost, "/v1/cite",
			`{"answer":"The sky is blue.","documents":[{"key":"sky","text":"On clear days the sky is blue."}]}`,
			authJSON)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("cite request never reached the LLM")
	}

	updated := testConfig(0)
	updated.Cache.Enable = true
	updated.Cache.Type = "memory"
	updated.Cache.MaxSize = 10
	require.NoError(t, s.applyConfig(updated))
	require.IsType(t, &cache.MemoryCache{}, s.gen.cache)

	// The retired generation is still serving, so its cache stays open.
	time.Sleep(50 * time.Millisecond)
	_, _, err = oldCache.Get(context.Background(), "missing")
	require.NoError(t, err)

	close(release)
	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cite request did not finish")
	}
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, mr.Keys(), 1, "result should be stored through the cache it started with")

	s.retiring.Wait()
	_, _, err = oldCache.Get(context.Background(), "missing")
	assert.Error(t, err, "retired cache should be closed once its requests finish")
}

func TestServerReloadShutsDownReplacedQueue(t *testing.T) {
	cfg := testConfig(0)
	cfg.Queue.Enabled = true
	cfg.Queue.InitialSize = 4
	cfg.Queue.MaxConcurrent = 2
	s, _ := newTestServer(t, cfg)

	oldQueue := s.gen.queue
	require.NotNil(t, oldQueue)

	t.Run("concurrency change builds a new queue", func(t *testing.T) {
		updated := testConfig(0)
		updated.Queue.Enabled = true
		updated.Queue.InitialSize = 4
		updated.Queue.MaxConcurrent = 3
		require.NoError(t, s.applyConfig(updated))
		require.NotNil(t, s.gen.queue)
		assert.NotSame(t, oldQueue, s.gen.queue)
	})

	t.Run("disabling the queue shuts it down", func(t *testing.T) {
		current := s.gen.queue
		updated := testConfig(0)
		require.NoError(t, s.applyConfig(updated))
		assert.Nil(t, s.gen.queue)

		s.retiring.Wait()
		ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		for _, q := range []http.Handler{oldQueue.Handler(ok), current.Handler(ok)} {
			rec := httptest.NewRecorder()
			q.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		}
	})
}

func TestServer(t *testing.T) {
	portInUse := func(port int) bool {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return true
		}
		ln.Close()
		return false
	}

	waitForPortAvailable := func(port int) error {
		for i := 0; i < 50; i++ {
			if !portInUse(port) {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("port %d is still in use after timeout", port)
	}

	ports := []int{9081, 9082}
	for _, port := range ports {
		require.NoError(t, waitForPortAvailable(port), "Port %d is still in use", port)
	}

	initialConfig := testConfig(9081)
	watcher := mocks.NewMockConfigWatcher(initialConfig)
	server, err := NewServerWithConfig(watcher, mocks.NewStaticLLM(citationReply), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	healthy := func(port int) func() bool {
		return func() bool {
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}
	}

	require.Eventually(t, healthy(9081), 5*time.Second, 100*time.Millisecond, "Server failed to start")

	t.Run("Configuration Update", func(t *testing.T) {
		watcher.UpdateConfig(testConfig(9082))

		require.Eventually(t, healthy(9082), 5*time.Second, 100*time.Millisecond, "Server failed to start on new port")
		require.NoError(t, waitForPortAvailable(9081), "Old port is still in use")
	})

	cancel()

	select {
	case err := <-serverErrChan:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Server failed to shut down")
	}

	for _, port := range ports {
		require.NoError(t, waitForPortAvailable(port), "Port %d was not released after server shutdown", port)
	}
}

func TestStartFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	s, _ := newTestServer(t, testConfig(ln.Addr().(*net.TCPAddr).Port))
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
