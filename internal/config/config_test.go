package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "previewd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8000 {
		t.Errorf("default port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Engine != "deno" {
		t.Errorf("default engine = %q, want deno", cfg.Server.Engine)
	}
	if cfg.Server.GracePeriod != 500*time.Millisecond {
		t.Errorf("default grace period = %s", cfg.Server.GracePeriod)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("default debounce = %s", cfg.Watch.Debounce)
	}
	if cfg.Health.Interval != 10*time.Second {
		t.Errorf("default health interval = %s", cfg.Health.Interval)
	}
	if cfg.Project.MaxDepth != 10 {
		t.Errorf("default max depth = %d", cfg.Project.MaxDepth)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 3000
  engine: builtin
watch:
  debounce: 200ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Server.Engine != "builtin" {
		t.Errorf("engine = %q, want builtin", cfg.Server.Engine)
	}
	if cfg.Watch.Debounce != 200*time.Millisecond {
		t.Errorf("debounce = %s, want 200ms", cfg.Watch.Debounce)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if cfg.Health.Interval != 10*time.Second {
		t.Errorf("health interval = %s, want default", cfg.Health.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown engine", func(c *Config) { c.Server.Engine = "node" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRestoresDefaults(t *testing.T) {
	cfg := Default()
	cfg.Server.Engine = ""
	cfg.Server.GracePeriod = 0
	cfg.Watch.Debounce = -time.Second
	cfg.Watch.Extensions = nil
	cfg.Project.MaxDepth = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Server.Engine != "deno" {
		t.Errorf("engine = %q, want deno", cfg.Server.Engine)
	}
	if cfg.Server.GracePeriod != 500*time.Millisecond {
		t.Errorf("grace period = %s", cfg.Server.GracePeriod)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Watch.Debounce)
	}
	if len(cfg.Watch.Extensions) == 0 {
		t.Error("extensions not restored")
	}
	if cfg.Project.MaxDepth != 10 {
		t.Errorf("max depth = %d", cfg.Project.MaxDepth)
	}
}
