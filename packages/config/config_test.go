package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: json
host:
  command: /usr/local/bin/formulahost
  args: ["--log-level", "debug"]
  shutdown_timeout: 2s
native:
  max_concurrency: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/usr/local/bin/formulahost", cfg.Host.Command)
	assert.Equal(t, []string{"--log-level", "debug"}, cfg.Host.Args)
	assert.Equal(t, 2*time.Second, cfg.Host.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.Host.StartTimeout, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Native.MaxConcurrency)
	assert.Equal(t, "Data", cfg.Host.SheetName)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "host:\n  command: from-file\n")
	t.Setenv(EnvHostCommand, "go run ./cmd/formulahost")
	t.Setenv(EnvLogLevel, "WARN")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "go", cfg.Host.Command)
	assert.Equal(t, []string{"run", "./cmd/formulahost"}, cfg.Host.Args)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"bad format", "log:\n  format: xml\n", "Format"},
		{"zero concurrency", "native:\n  max_concurrency: 0\n", "MaxConcurrency"},
		{"long sheet name", "host:\n  sheet_name: this-sheet-name-is-far-too-long-for-a-workbook\n", "SheetName"},
		{"retry interval order", "host:\n  cleanup_retry:\n    initial_interval: 2s\n    max_interval: 1s\n", "MaxInterval"},
		{"bad addr", "server:\n  addr: nowhere\n", "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.field, verrs[0].Field())
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "log: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(LogConfig{Level: "debug", Format: "text"}, &buf).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
