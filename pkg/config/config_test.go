package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Coordinator.SweepInterval != 30*time.Second {
		t.Errorf("expected 30s sweep interval, got %v", cfg.Coordinator.SweepInterval)
	}
	if cfg.Coordinator.HeartbeatTimeout != 90*time.Second {
		t.Errorf("expected 90s heartbeat timeout, got %v", cfg.Coordinator.HeartbeatTimeout)
	}
	if cfg.Coordinator.DefaultTaskTimeout != 300 {
		t.Errorf("expected 300s default task timeout, got %d", cfg.Coordinator.DefaultTaskTimeout)
	}
	if cfg.Security.EnableAuth {
		t.Error("auth should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v, want nil", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
server:
  http_port: 9000
storage:
  driver: postgres
  dsn: postgres://coordinator@localhost/clawbot?sslmode=disable
coordinator:
  sweep_interval: 10s
  send_queue_size: 64
cache:
  backend: none
`
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v, want nil", err)
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.Server.HTTPPort)
	}
	if cfg.Coordinator.SweepInterval != 10*time.Second {
		t.Errorf("SweepInterval = %v, want 10s", cfg.Coordinator.SweepInterval)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Coordinator.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want default 30s", cfg.Coordinator.HeartbeatInterval)
	}
	if cfg.Coordinator.SendQueueSize != 64 {
		t.Errorf("SendQueueSize = %d, want 64", cfg.Coordinator.SendQueueSize)
	}
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "hunter2")

	yaml := `
security:
  enable_auth: true
  jwt_secret: ${TEST_JWT_SECRET}
`
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v, want nil", err)
	}
	if cfg.Security.JWTSecret != "hunter2" {
		t.Errorf("JWTSecret = %q, want expanded env value", cfg.Security.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"zero sweep interval", func(c *Config) { c.Coordinator.SweepInterval = 0 }},
		{"timeout below interval", func(c *Config) { c.Coordinator.HeartbeatTimeout = time.Second }},
		{"task timeout out of range", func(c *Config) { c.Coordinator.DefaultTaskTimeout = 4000 }},
		{"auth without secret", func(c *Config) { c.Security.EnableAuth = true }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/coordinator.yaml"); err == nil {
		t.Error("LoadFromFile(missing) error = nil, want error")
	}
}
