// Package config loads the engine configuration. priority is environment,
// then file, then defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// environment overrides
const (
	EnvHostCommand = "FORMULA_HOST_COMMAND"
	EnvLogLevel    = "FORMULA_LOG_LEVEL"
	EnvServerAddr  = "FORMULA_SERVER_ADDR"
)

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Host   HostConfig   `yaml:"host"`
	Native NativeConfig `yaml:"native"`
	Server ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// HostConfig describes how the automation host is started and torn down.
type HostConfig struct {
	Command         string        `yaml:"command" validate:"required"`
	Args            []string      `yaml:"args"`
	SheetName       string        `yaml:"sheet_name" validate:"required,max=31"`
	TempDir         string        `yaml:"temp_dir"`
	StartTimeout    time.Duration `yaml:"start_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	CleanupRetry    RetryConfig   `yaml:"cleanup_retry"`
}

// RetryConfig bounds the temp file deletion retry.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" validate:"gt=0"`
}

type NativeConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=1,lte=1024"`
	CacheSize      int `yaml:"cache_size" validate:"gte=0"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

var validate = validator.New()

// Default returns a configuration that works without a file.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Host: HostConfig{
			Command:         "formulahost",
			SheetName:       "Data",
			StartTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			CleanupRetry: RetryConfig{
				InitialInterval: 50 * time.Millisecond,
				MaxInterval:     time.Second,
				MaxElapsed:      5 * time.Second,
			},
		},
		Native: NativeConfig{MaxConcurrency: 4, CacheSize: 512},
		Server: ServerConfig{Addr: "localhost:8080"},
	}
}

// Load reads path over the defaults, applies the environment and validates.
// a missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("load config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvHostCommand); v != "" {
		// the command may carry its own arguments
		fields := strings.Fields(v)
		cfg.Host.Command = fields[0]
		if len(fields) > 1 {
			cfg.Host.Args = fields[1:]
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FORMULA_NATIVE_MAX_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Native.MaxConcurrency = i
		}
	}
}

func (c Config) Validate() error {
	return validate.Struct(c)
}

// NewLogger builds the root logger. it never touches slog's default.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
