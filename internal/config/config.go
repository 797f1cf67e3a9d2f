// Package config provides configuration for the platform core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	OTEL      OTELConfig      `yaml:"otel"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Queue     QueueConfig     `yaml:"queue"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OTELConfig defines OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"serviceName"`
	Insecure    bool   `yaml:"insecure"`
}

// MetricsConfig defines Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig defines handshake verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

// CacheConfig defines tiered cache settings.
type CacheConfig struct {
	L1Size        int           `yaml:"l1Size"`
	DefaultTTL    time.Duration `yaml:"defaultTTL"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// RateLimitConfig defines limiter housekeeping settings. Per-plan limits
// live in the shared plan table, not here.
type RateLimitConfig struct {
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// BreakerConfig defines default circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// QueueConfig defines work queue defaults.
type QueueConfig struct {
	MaxConcurrency int           `yaml:"maxConcurrency"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
}

// RealtimeConfig defines connection hub settings.
type RealtimeConfig struct {
	OfflineQueueLimit  int           `yaml:"offlineQueueLimit"`
	OfflineMessageTTL  time.Duration `yaml:"offlineMessageTTL"`
	OfflineSweep       time.Duration `yaml:"offlineSweep"`
	ConnectRatePerMin  int           `yaml:"connectRatePerMin"`
	ConnectBurst       int           `yaml:"connectBurst"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	PingInterval       time.Duration `yaml:"pingInterval"`
	MaxMessageBytes    int64         `yaml:"maxMessageBytes"`
	SendBufferMessages int           `yaml:"sendBufferMessages"`
}

// NewDefaultConfig returns configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		OTEL: OTELConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "platform-core",
			Insecure:    true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Auth: AuthConfig{
			Issuer: "waylink",
		},
		Cache: CacheConfig{
			L1Size:        5000,
			DefaultTTL:    5 * time.Minute,
			SweepInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			SweepInterval: time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     time.Minute,
		},
		Queue: QueueConfig{
			MaxConcurrency: 5,
			MaxAttempts:    3,
			RetryBaseDelay: time.Second,
		},
		Realtime: RealtimeConfig{
			OfflineQueueLimit:  100,
			OfflineMessageTTL:  10 * time.Minute,
			OfflineSweep:       time.Minute,
			ConnectRatePerMin:  100,
			ConnectBurst:       10,
			WriteTimeout:       10 * time.Second,
			PingInterval:       25 * time.Second,
			MaxMessageBytes:    1 << 20,
			SendBufferMessages: 64,
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PLATFORM_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PLATFORM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTEL.Endpoint = v
		cfg.OTEL.Enabled = true
	}
}

// Validate checks invariants the components rely on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache.l1Size must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failureThreshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.successThreshold must be at least 1")
	}
	if c.Queue.MaxConcurrency < 1 {
		return fmt.Errorf("queue.maxConcurrency must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.maxAttempts must be at least 1")
	}
	if c.Realtime.OfflineQueueLimit < 0 {
		return fmt.Errorf("realtime.offlineQueueLimit must not be negative")
	}
	return nil
}
