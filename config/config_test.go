package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
registry:
  cache_size: 64
  max_versions: 5
sync:
  policy: "last-writer-wins"
  concurrency_ceiling: 10
  operation_timeout: 30s
lifecycle:
  recovery_delay: 10
database:
  path: "/tmp/registry.db"
api:
  host: "127.0.0.1"
  port: 9090
logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Registry.CacheSize != 64 {
		t.Errorf("Registry.CacheSize = %d, want 64", cfg.Registry.CacheSize)
	}
	if cfg.Registry.MaxVersions != 5 {
		t.Errorf("Registry.MaxVersions = %d, want 5", cfg.Registry.MaxVersions)
	}
	if cfg.Sync.Policy != "last-writer-wins" {
		t.Errorf("Sync.Policy = %q", cfg.Sync.Policy)
	}
	if cfg.Sync.OperationTimeout.Std() != 30*time.Second {
		t.Errorf("Sync.OperationTimeout = %v, want 30s", cfg.Sync.OperationTimeout.Std())
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	// Bare integers are seconds.
	if cfg.Lifecycle.RecoveryDelay.Std() != 10*time.Second {
		t.Errorf("Lifecycle.RecoveryDelay = %v, want 10s", cfg.Lifecycle.RecoveryDelay.Std())
	}

	// Unset sections keep their defaults.
	if cfg.Lifecycle.MaxRecoveryAttempts != 3 {
		t.Errorf("Lifecycle.MaxRecoveryAttempts = %d, want default 3", cfg.Lifecycle.MaxRecoveryAttempts)
	}
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want default /ws", cfg.WebSocket.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "registry: [not a map")); err == nil {
		t.Error("Load() expected parse error, got nil")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad policy", "sync:\n  policy: \"wishful\"\n"},
		{"bad port", "api:\n  port: 99999\n"},
		{"bad log level", "logging:\n  level: \"loud\"\n"},
		{"zero max versions", "registry:\n  max_versions: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REGISTRYKIT_DATABASE_PATH", "/override/registry.db")
	t.Setenv("REGISTRYKIT_API_PORT", "7777")
	t.Setenv("REGISTRYKIT_SYNC_POLICY", "manual")

	cfg, err := Load(writeConfig(t, "api:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/override/registry.db" {
		t.Errorf("Database.Path = %q, env override not applied", cfg.Database.Path)
	}
	if cfg.API.Port != 7777 {
		t.Errorf("API.Port = %d, env override not applied", cfg.API.Port)
	}
	if cfg.Sync.Policy != "manual" {
		t.Errorf("Sync.Policy = %q, env override not applied", cfg.Sync.Policy)
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}
