package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Runtime.MaxConcurrent != 100 {
		t.Errorf("expected 100, got %d", cfg.Runtime.MaxConcurrent)
	}
	if cfg.Runtime.DefaultTimeoutMs != 50 {
		t.Errorf("expected 50ms, got %d", cfg.Runtime.DefaultTimeoutMs)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	if err := os.WriteFile(path, []byte(`
[server]
addr = "127.0.0.1:9000"
shutdown_timeout = "3s"

[runtime]
max_concurrent = 8
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("expected 127.0.0.1:9000, got %s", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Runtime.MaxConcurrent != 8 {
		t.Errorf("expected 8, got %d", cfg.Runtime.MaxConcurrent)
	}
	// Defaults preserved
	if cfg.Runtime.DefaultMemoryMB != 128 {
		t.Errorf("default should be preserved, got %d", cfg.Runtime.DefaultMemoryMB)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\naddr = "), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed TOML")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NEXO_ADDR", ":7070")
	t.Setenv("NEXO_MAX_CONCURRENT", "12")
	t.Setenv("NEXO_DB_PATH", ":memory:")
	t.Setenv("NEXO_LOG_LEVEL", "debug")

	cfg, err := Load("/nonexistent/path.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected :7070, got %s", cfg.Server.Addr)
	}
	if cfg.Runtime.MaxConcurrent != 12 {
		t.Errorf("expected 12, got %d", cfg.Runtime.MaxConcurrent)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("expected :memory:, got %s", cfg.Store.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Log.Level)
	}
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("NEXO_MAX_CONCURRENT", "lots")
	if _, err := Load("/nonexistent/path.toml"); err == nil {
		t.Fatal("expected an error for a non-numeric NEXO_MAX_CONCURRENT")
	}

	t.Setenv("NEXO_MAX_CONCURRENT", "0")
	if _, err := Load("/nonexistent/path.toml"); err == nil {
		t.Fatal("expected a validation error for zero permits")
	}
}

func TestEngine(t *testing.T) {
	cfg := Default()
	cfg.Runtime.MaxConcurrent = 3
	e := cfg.Engine()
	if e.MaxConcurrent != 3 || e.DefaultMemoryMB != 128 || e.MaxOutputBytes != 10<<20 {
		t.Errorf("engine = %+v", e)
	}
}
