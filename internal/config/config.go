// Package config loads livereload server configuration from flags, environment variables and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Snapshot backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Power sources.
const (
	PowerAuto   = "auto"
	PowerSysfs  = "sysfs"
	PowerUPower = "upower"
	PowerNone   = "none"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Server   ServerConfig
	Scanner  ScannerConfig
	Snapshot SnapshotConfig
	Power    PowerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // default: 8080
	ReadTimeout  time.Duration // default: 15s
	WriteTimeout time.Duration // 0 disables; streams manage their own write deadlines
	IdleTimeout  time.Duration // default: 60s

	// CORSOrigins lists origins allowed to open streams. Empty allows any origin.
	CORSOrigins []string

	// Per client IP limit on new stream connections.
	ConnectRate  float64 // tokens per second (default: 2)
	ConnectBurst int     // default: 10
}

// ScannerConfig holds scan engine tuning.
type ScannerConfig struct {
	QuickInterval time.Duration // default: 350ms
	SlowInterval  time.Duration // default: 1s
	PingEvery     int           // passes between keep-alive pings (default: 20)
	QueueSize     int           // per-subscriber queue capacity (default: 100)
}

// SnapshotConfig holds watch-set persistence configuration.
type SnapshotConfig struct {
	Backend          string // file, badger or sqlite (default: file)
	Dir              string // default: $TMPDIR/livereload
	InstallationRoot string // default: working directory
}

// PowerConfig selects where battery state is read from.
type PowerConfig struct {
	Source string // auto, sysfs, upower or none (default: auto)
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("livereload", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 0, disabled)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated allowed origins (default: any)")
	connectRate := fs.String("connect-rate", "", "Stream connections per second per client (default: 2)")
	connectBurst := fs.String("connect-burst", "", "Stream connection burst per client (default: 10)")

	quickInterval := fs.String("scan-quick-interval", "", "Scan interval when scans are fast (default: 350ms)")
	slowInterval := fs.String("scan-slow-interval", "", "Scan interval when scans are slow or idle (default: 1s)")
	pingEvery := fs.String("ping-every", "", "Scan passes between keep-alive pings (default: 20)")
	queueSize := fs.String("subscriber-queue-size", "", "Per subscriber event queue size (default: 100)")

	snapshotBackend := fs.String("snapshot-backend", "", "Snapshot backend: file, badger, sqlite (default: file)")
	snapshotDir := fs.String("snapshot-dir", "", "Snapshot directory (default: $TMPDIR/livereload)")
	installRoot := fs.String("installation-root", "", "Root used to derive the snapshot key (default: working directory)")

	powerSource := fs.String("power-source", "", "Battery state source: auto, sysfs, upower, none (default: auto)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env is fine.
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:         getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins:  splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "")),
			ConnectBurst: getIntConfigValue(*connectBurst, "CONNECT_BURST", 10),
		},
		Scanner: ScannerConfig{
			PingEvery: getIntConfigValue(*pingEvery, "PING_EVERY", 20),
			QueueSize: getIntConfigValue(*queueSize, "SUBSCRIBER_QUEUE_SIZE", 100),
		},
		Snapshot: SnapshotConfig{
			Backend:          strings.ToLower(getConfigValue(*snapshotBackend, "SNAPSHOT_BACKEND", BackendFile)),
			Dir:              getConfigValue(*snapshotDir, "SNAPSHOT_DIR", ""),
			InstallationRoot: getConfigValue(*installRoot, "INSTALLATION_ROOT", ""),
		},
		Power: PowerConfig{
			Source: strings.ToLower(getConfigValue(*powerSource, "POWER_SOURCE", PowerAuto)),
		},
	}

	rate, err := strconv.ParseFloat(getConfigValue(*connectRate, "CONNECT_RATE", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid connect rate: %w", err)
	}
	cfg.Server.ConnectRate = rate

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Scanner.QuickInterval, *quickInterval, "SCAN_QUICK_INTERVAL", "350ms"},
		{&cfg.Scanner.SlowInterval, *slowInterval, "SCAN_SLOW_INTERVAL", "1s"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandSnapshotPaths(); err != nil {
		return nil, fmt.Errorf("invalid snapshot path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Scanner.QuickInterval <= 0 || c.Scanner.SlowInterval <= 0 {
		return errors.New("scan intervals must be positive")
	}
	if c.Scanner.QuickInterval > c.Scanner.SlowInterval {
		return fmt.Errorf("quick scan interval %s exceeds slow interval %s", c.Scanner.QuickInterval, c.Scanner.SlowInterval)
	}
	if c.Scanner.PingEvery < 1 {
		return errors.New("PING_EVERY must be at least 1")
	}
	if c.Scanner.QueueSize < 1 {
		return errors.New("SUBSCRIBER_QUEUE_SIZE must be at least 1")
	}

	if c.Server.ConnectRate <= 0 || c.Server.ConnectBurst < 1 {
		return errors.New("connection rate limit must be positive")
	}

	switch c.Snapshot.Backend {
	case BackendFile, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("invalid snapshot backend: %s (must be file, badger, or sqlite)", c.Snapshot.Backend)
	}
	if c.Snapshot.Dir == "" {
		return errors.New("snapshot directory cannot be empty after expansion")
	}

	switch c.Power.Source {
	case PowerAuto, PowerSysfs, PowerUPower, PowerNone:
	default:
		return fmt.Errorf("invalid power source: %s (must be auto, sysfs, upower, or none)", c.Power.Source)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned as is.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandSnapshotPaths() error {
	dir, err := expandPath(c.Snapshot.Dir, filepath.Join(os.TempDir(), "livereload"))
	if err != nil {
		return err
	}
	c.Snapshot.Dir = dir

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	root, err := expandPath(c.Snapshot.InstallationRoot, wd)
	if err != nil {
		return err
	}
	c.Snapshot.InstallationRoot = root
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return result
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
