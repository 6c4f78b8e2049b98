package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clawbot/coordinator/pkg/models"
)

// Config is the top-level configuration for the coordinator service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Security    SecurityConfig    `yaml:"security"`
	Events      EventsConfig      `yaml:"events"`
	Cache       CacheConfig       `yaml:"cache"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	HTTPPort       int           `yaml:"http_port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
	DSN    string `yaml:"dsn"`    // Postgres connection string
}

// CoordinatorConfig tunes assignment, liveness and timeout handling.
type CoordinatorConfig struct {
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	DefaultTaskTimeout int           `yaml:"default_task_timeout"` // seconds
	SendQueueSize      int           `yaml:"send_queue_size"`
}

// SecurityConfig configures authentication for the API and WebSocket.
// APIKeyHashes holds bcrypt hashes of operator keys; generate them with
// `clawctl key hash`.
type SecurityConfig struct {
	EnableAuth   bool          `yaml:"enable_auth"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	APIKeyHashes []string      `yaml:"api_key_hashes"`
}

// EventsConfig configures lifecycle event publishing. An empty URL
// disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CacheConfig configures the terminal-result cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // "memory", "redis" or "none"
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Coordinator: CoordinatorConfig{
			SweepInterval:      30 * time.Second,
			HeartbeatInterval:  30 * time.Second,
			HeartbeatTimeout:   90 * time.Second,
			DefaultTaskTimeout: models.DefaultTaskTimeout,
			SendQueueSize:      256,
		},
		Security: SecurityConfig{
			EnableAuth: false,
			TokenTTL:   24 * time.Hour,
		},
		Events: EventsConfig{
			SubjectPrefix: "clawbot",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "clawbot-coordinator",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Environment
// variables (e.g. ${CLAWBOT_JWT_SECRET}) are expanded before parsing.
// Fields absent from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported (postgres, memory)", c.Storage.Driver)
	}
	if c.Coordinator.SweepInterval <= 0 {
		return fmt.Errorf("coordinator.sweep_interval must be positive")
	}
	if c.Coordinator.HeartbeatInterval <= 0 {
		return fmt.Errorf("coordinator.heartbeat_interval must be positive")
	}
	if c.Coordinator.HeartbeatTimeout <= c.Coordinator.HeartbeatInterval {
		return fmt.Errorf("coordinator.heartbeat_timeout must exceed heartbeat_interval")
	}
	if c.Coordinator.DefaultTaskTimeout < models.MinTaskTimeout || c.Coordinator.DefaultTaskTimeout > models.MaxTaskTimeout {
		return fmt.Errorf("coordinator.default_task_timeout must be between %d and %d",
			models.MinTaskTimeout, models.MaxTaskTimeout)
	}
	if c.Coordinator.SendQueueSize <= 0 {
		return fmt.Errorf("coordinator.send_queue_size must be positive")
	}
	if c.Security.EnableAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required when auth is enabled")
	}
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr required for redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q not supported (memory, redis, none)", c.Cache.Backend)
	}
	return nil
}
