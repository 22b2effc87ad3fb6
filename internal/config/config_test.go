package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Listen: ListenConfig{
			Host:          "0.0.0.0",
			Port:          7400,
			WriteTimeout:  30 * time.Second,
			MaxFrameBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestListenAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:7400", cfg.Listen.Addr())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
listen:
  host: 127.0.0.1
  port: 9000
  write_timeout: 10s
  max_frame_bytes: 65536
logging:
  level: debug
  format: console
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Listen.Host)
	assert.Equal(t, 9000, cfg.Listen.Port)
	assert.Equal(t, 10*time.Second, cfg.Listen.WriteTimeout)
	assert.Equal(t, uint32(65536), cfg.Listen.MaxFrameBytes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
logging:
  level: warn
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7400, cfg.Listen.Port)
	assert.Equal(t, uint32(1<<20), cfg.Listen.MaxFrameBytes)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 7400, cfg.Listen.Port)
}

func TestInvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestInvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestInvalidMaxFrameBytes(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.MaxFrameBytes = 100
	assert.Error(t, cfg.Validate())
}

func TestNegativeWriteTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.WriteTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Listen.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Listen.Port = port
		if cfg.Validate() == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}
