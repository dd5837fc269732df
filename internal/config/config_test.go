package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Server: ServerConfig{Port: "8080", ConnectRate: 2, ConnectBurst: 10},
		Scanner: ScannerConfig{
			QuickInterval: 350 * time.Millisecond,
			SlowInterval:  time.Second,
			PingEvery:     20,
			QueueSize:     100,
		},
		Snapshot: SnapshotConfig{Backend: BackendFile, Dir: "/tmp/livereload", InstallationRoot: "/srv/site"},
		Power:    PowerConfig{Source: PowerAuto},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env
			if tt.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logger.Level = "trace" }},
		{"zero quick interval", func(c *Config) { c.Scanner.QuickInterval = 0 }},
		{"quick slower than slow", func(c *Config) { c.Scanner.QuickInterval = 2 * time.Second }},
		{"zero ping cadence", func(c *Config) { c.Scanner.PingEvery = 0 }},
		{"zero queue", func(c *Config) { c.Scanner.QueueSize = 0 }},
		{"zero connect rate", func(c *Config) { c.Server.ConnectRate = 0 }},
		{"unknown backend", func(c *Config) { c.Snapshot.Backend = "redis" }},
		{"empty snapshot dir", func(c *Config) { c.Snapshot.Dir = "" }},
		{"unknown power source", func(c *Config) { c.Power.Source = "acpi" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	cfg, err := LoadConfig([]string{"-env-file", missing})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
	assert.Equal(t, 350*time.Millisecond, cfg.Scanner.QuickInterval)
	assert.Equal(t, time.Second, cfg.Scanner.SlowInterval)
	assert.Equal(t, 20, cfg.Scanner.PingEvery)
	assert.Equal(t, 100, cfg.Scanner.QueueSize)
	assert.Equal(t, BackendFile, cfg.Snapshot.Backend)
	assert.Equal(t, filepath.Join(os.TempDir(), "livereload"), cfg.Snapshot.Dir)
	assert.True(t, filepath.IsAbs(cfg.Snapshot.InstallationRoot))
	assert.Equal(t, PowerAuto, cfg.Power.Source)
	assert.Empty(t, cfg.Server.CORSOrigins)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# local overrides\nSERVER_PORT=9000\nPING_EVERY=5\nSNAPSHOT_BACKEND='sqlite'\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// loadEnvFile sets variables process-wide.
	t.Cleanup(func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("SNAPSHOT_BACKEND")
	})

	// Environment beats the .env file.
	t.Setenv("PING_EVERY", "7")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, http://127.0.0.1:3000")

	cfg, err := LoadConfig([]string{
		"-env-file", envFile,
		"-port", "9100", // flag beats both
		"-scan-quick-interval", "200ms",
		"-snapshot-dir", filepath.Join(dir, "snaps"),
	})
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Scanner.PingEvery)
	assert.Equal(t, BackendSQLite, cfg.Snapshot.Backend)
	assert.Equal(t, 200*time.Millisecond, cfg.Scanner.QuickInterval)
	assert.Equal(t, filepath.Join(dir, "snaps"), cfg.Snapshot.Dir)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.Server.CORSOrigins)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	t.Setenv("SCAN_SLOW_INTERVAL", "soon")

	_, err := LoadConfig([]string{"-env-file", missing})
	assert.ErrorContains(t, err, "SCAN_SLOW_INTERVAL")
}

func TestLoadEnvFile_InvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JUSTAKEY\n"), 0o600))

	assert.ErrorContains(t, loadEnvFile(path), "line 1")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/snaps", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "snaps"), got)

	got, err = expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath("/a/b/../c", "")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", got)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b ,"))
}
