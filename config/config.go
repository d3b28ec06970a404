// Package config provides configuration management for the citegate server.
// Configuration is read from YAML, environment variables are expanded before
// decoding, and values are layered on top of DefaultConfig.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server             ServerConfig              `yaml:"server"`
	LLM                LLMConfig                 `yaml:"llm"`
	Logging            LoggingConfig             `yaml:"logging"`
	Routes             []RouteConfig             `yaml:"routes"`
	Providers          map[string]ProviderConfig `yaml:"providers"`
	ProviderPreference []string                  `yaml:"provider_preference"` // Order of provider preference
	CircuitBreaker     CircuitBreakerConfig      `yaml:"circuit_breaker"`
	Queue              QueueConfig               `yaml:"queue"`
	RateLimit          RateLimitConfig           `yaml:"rate_limit"`
	Processing         ProcessingConfig          `yaml:"processing"`
	Cache              CacheConfig               `yaml:"cache"`
	TestMode           bool                      `yaml:"-"` // Skip provider initialization in tests
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Citation requests wait on an LLM round trip, so keep this above RequestTimeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RequestTimeout bounds handler execution through the timeout middleware (default: 40s)
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes caps request bodies; inline images make convert payloads large (default: 20MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// APIKeys lists the keys accepted by the auth middleware.
	// An empty list accepts any non-empty key.
	APIKeys []string `yaml:"api_keys"`
}

// LLMConfig holds the settings of the primary LLM used for citation extraction.
type LLMConfig struct {
	// Provider specifies the LLM provider (e.g., "gemini", "openai", "anthropic", "ollama")
	Provider string `yaml:"provider"`

	// Model is the name of the model to use (e.g., "gemini-2.5-flash")
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API
	// Use environment variables (e.g., ${GEMINI_API_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the provider API base URL
	Endpoint string `yaml:"endpoint"`

	// MaxContextTokens is the token budget for answer plus documents in a citation request
	MaxContextTokens int `yaml:"max_context_tokens"`

	// Options contains provider-specific generation parameters
	Options map[string]interface{} `yaml:"options"`

	// BackupProviders defines failover providers (optional)
	BackupProviders []BackupProvider `yaml:"backup_providers,omitempty"`

	// HealthCheck defines provider health monitoring settings (optional)
	HealthCheck *ProviderHealthCheck `yaml:"health_check,omitempty"`
}

// BackupProvider defines a fallback LLM provider
type BackupProvider struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// ProviderHealthCheck defines health check settings
type ProviderHealthCheck struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// ProviderConfig holds configuration for a named LLM provider
type ProviderConfig struct {
	Type     string `yaml:"type"`     // Provider type (e.g., gemini, openai, anthropic)
	Model    string `yaml:"model"`    // Model name
	APIKey   string `yaml:"api_key"`  // API key for authentication
	Endpoint string `yaml:"endpoint"` // Optional base URL override
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// RouteConfig holds route-specific configuration.
type RouteConfig struct {
	// Path is the URL path to match
	Path string `yaml:"path"`

	// Handler specifies which handler to use for this route (convert, cite, metrics)
	Handler string `yaml:"handler"`

	// Version specifies the API version prefix (e.g., "v1")
	Version string `yaml:"version"`

	// Methods specifies the allowed HTTP methods for this route
	Methods []string `yaml:"methods"`

	// Headers specifies the required headers for this route
	Headers map[string]string `yaml:"headers,omitempty"`

	// Middleware specifies the route-specific middleware (auth, ratelimit)
	Middleware []string `yaml:"middleware,omitempty"`

	// HealthCheck specifies the health check configuration for this route
	HealthCheck *HealthCheck `yaml:"health_check,omitempty"`
}

// HealthCheck defines health check configuration for a route
type HealthCheck struct {
	Enabled   bool              `yaml:"enabled"`
	Interval  time.Duration     `yaml:"interval"`
	Timeout   time.Duration     `yaml:"timeout"`
	Threshold int               `yaml:"threshold"`
	Checks    map[string]string `yaml:"checks"`
}

// CircuitBreakerConfig configures the per-provider breakers.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// TestMode indicates whether to skip Prometheus metric registration (for testing)
	TestMode bool `yaml:"test_mode"`
}

// QueueConfig controls the request queue middleware.
type QueueConfig struct {
	// Enabled determines if the queue middleware is active
	Enabled bool `yaml:"enabled"`

	// InitialSize is the maximum number of requests waiting or in flight
	InitialSize int64 `yaml:"initial_size"`

	// MaxConcurrent is how many queued requests may run at once
	MaxConcurrent int `yaml:"max_concurrent"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// Requests is the bucket size
	Requests int `yaml:"requests"`

	// Window is the time over which Requests are replenished
	Window time.Duration `yaml:"window"`
}

// CacheConfig configures the citation result cache.
type CacheConfig struct {
	// Enable turns caching on/off (default: false)
	Enable bool `yaml:"enable"`

	// Type is "memory" or "redis"
	Type string `yaml:"type"`

	// TTL specifies how long to keep cached citation results (default: 24h)
	TTL time.Duration `yaml:"ttl"`

	// MaxSize limits the number of entries in the memory cache
	MaxSize int `yaml:"max_size"`

	// Redis configuration (only used if Type is "redis")
	Redis *RedisCacheConfig `yaml:"redis,omitempty"`
}

// RedisCacheConfig holds Redis-specific cache configuration.
type RedisCacheConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string `yaml:"address"`

	// Password for Redis authentication (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number to use
	DB int `yaml:"db"`
}

// DefaultConfig returns the configuration used when a field is absent from YAML.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    45 * time.Second,
			RequestTimeout:  40 * time.Second,
			MaxHeaderBytes:  1 << 20,
			MaxBodyBytes:    20 << 20,
			ShutdownTimeout: 30 * time.Second,
		},

		LLM: LLMConfig{
			Provider:         "gemini",
			Model:            "gemini-2.5-flash",
			APIKey:           "${GEMINI_API_KEY}",
			MaxContextTokens: 128000,
			HealthCheck: &ProviderHealthCheck{
				Enabled:          false,
				Interval:         time.Minute,
				Timeout:          10 * time.Second,
				FailureThreshold: 2,
			},
			Options: map[string]interface{}{
				"temperature": 0.0,
			},
		},

		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},

		ProviderPreference: []string{"gemini"},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Routes: []RouteConfig{
			{
				Path:       "/convert",
				Handler:    "convert",
				Version:    "v1",
				Methods:    []string{"POST"},
				Middleware: []string{"auth", "ratelimit"},
			},
			{
				Path:       "/cite",
				Handler:    "cite",
				Version:    "v1",
				Methods:    []string{"POST"},
				Middleware: []string{"auth", "ratelimit"},
			},
		},

		Queue: QueueConfig{
			Enabled:       false,
			InitialSize:   256,
			MaxConcurrent: 16,
		},

		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},

		Processing: DefaultProcessingConfig(),

		Cache: CacheConfig{
			Enable:  false,
			Type:    "memory",
			TTL:     24 * time.Hour,
			MaxSize: 1000,
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Values that
// themselves contain references are expanded again until stable. An opening
// "${" without a closing brace is a syntax error.
func expandEnvVars(s string) (string, error) {
	if err := checkEnvSyntax(s); err != nil {
		return "", err
	}

	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	})

	for i := 0; i < 8 && strings.Contains(result, "${"); i++ {
		next := os.Expand(result, os.Getenv)
		if next == result {
			break
		}
		result = next
	}

	return result, nil
}

func checkEnvSyntax(s string) error {
	for rest := s; ; {
		i := strings.Index(rest, "${")
		if i < 0 {
			return nil
		}
		rest = rest[i+2:]
		end := strings.IndexAny(rest, "}\n")
		if end < 0 || rest[end] != '}' {
			return fmt.Errorf("invalid syntax: unterminated ${ reference")
		}
		rest = rest[end+1:]
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	config := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Defaults may reference the environment too.
	if config.LLM.APIKey, err = expandEnvVars(config.LLM.APIKey); err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("negative request timeout: %v", c.Server.RequestTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("negative max body bytes: %d", c.Server.MaxBodyBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	if c.LLM.Provider == "" {
		return fmt.Errorf("empty LLM provider")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("empty LLM model")
	}
	if c.LLM.MaxContextTokens < 0 {
		return fmt.Errorf("negative max context tokens: %d", c.LLM.MaxContextTokens)
	}
	if hc := c.LLM.HealthCheck; hc != nil && hc.Enabled && hc.Interval <= 0 {
		return fmt.Errorf("health check interval must be positive when enabled")
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("empty type for provider %s", name)
		}
	}
	for _, name := range c.ProviderPreference {
		if len(c.Providers) == 0 {
			break
		}
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("provider preference references unknown provider: %s", name)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	for i, route := range c.Routes {
		if route.Path == "" {
			return fmt.Errorf("empty path in route %d", i)
		}
		if route.Handler == "" {
			return fmt.Errorf("empty handler in route %d", i)
		}
		if route.Version == "" {
			return fmt.Errorf("empty version in route %d", i)
		}
	}

	if c.Queue.Enabled && c.Queue.InitialSize <= 0 {
		return fmt.Errorf("queue size must be positive when the queue is enabled")
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("invalid rate limit: %d per %v", c.RateLimit.Requests, c.RateLimit.Window)
	}

	if err := c.Processing.Validate(); err != nil {
		return err
	}

	if c.Cache.Enable {
		switch c.Cache.Type {
		case "memory":
			if c.Cache.MaxSize <= 0 {
				return fmt.Errorf("cache max_size must be positive for memory cache")
			}
		case "redis":
			if c.Cache.Redis == nil || c.Cache.Redis.Address == "" {
				return fmt.Errorf("redis address required when cache type is redis")
			}
		default:
			return fmt.Errorf("invalid cache type: %s", c.Cache.Type)
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
	}

	return nil
}
