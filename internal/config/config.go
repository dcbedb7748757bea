// Package config loads runtime settings: defaults, then an optional TOML
// file, then environment variables (env wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/cryguy/nexo/internal/core"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Runtime RuntimeConfig `toml:"runtime"`
	Store   StoreConfig   `toml:"store"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr"`
	MaxConnections  int           `toml:"max_connections"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type RuntimeConfig struct {
	MaxConcurrent    int    `toml:"max_concurrent"`
	DefaultTimeoutMs uint64 `toml:"default_timeout_ms"`
	DefaultMemoryMB  uint32 `toml:"default_memory_mb"`
	MaxOutputBytes   int    `toml:"max_output_bytes"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	engine := core.DefaultEngineConfig()
	return Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			MaxConnections:  1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Runtime: RuntimeConfig{
			MaxConcurrent:    engine.MaxConcurrent,
			DefaultTimeoutMs: engine.DefaultTimeoutMs,
			DefaultMemoryMB:  engine.DefaultMemoryMB,
			MaxOutputBytes:   engine.MaxOutputBytes,
		},
		Store: StoreConfig{Path: "data/functions.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> .env -> env vars. A missing
// file is not an error; a malformed one is. An empty path means nexo.toml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "nexo.toml"
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	// .env is optional; variables already set in the process win.
	_ = godotenv.Load()

	if v := os.Getenv("NEXO_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NEXO_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("NEXO_MAX_CONCURRENT: %w", err)
		}
		cfg.Runtime.MaxConcurrent = n
	}
	if v := os.Getenv("NEXO_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("NEXO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the runtime cannot start with.
func (c Config) Validate() error {
	if c.Runtime.MaxConcurrent <= 0 {
		return fmt.Errorf("runtime.max_concurrent must be positive, got %d", c.Runtime.MaxConcurrent)
	}
	if c.Runtime.MaxOutputBytes <= 0 {
		return fmt.Errorf("runtime.max_output_bytes must be positive, got %d", c.Runtime.MaxOutputBytes)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is empty")
	}
	return nil
}

// Engine returns the execution core settings.
func (c Config) Engine() core.EngineConfig {
	return core.EngineConfig{
		MaxConcurrent:    c.Runtime.MaxConcurrent,
		DefaultTimeoutMs: c.Runtime.DefaultTimeoutMs,
		DefaultMemoryMB:  c.Runtime.DefaultMemoryMB,
		MaxOutputBytes:   c.Runtime.MaxOutputBytes,
	}
}
