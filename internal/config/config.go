// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bibliofed/bibliofed/internal/dispatch"
	"github.com/bibliofed/bibliofed/internal/validation"
)

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Paths  PathsConfig
	Server ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `validate:"oneof=development staging production"`
}

// LoggerConfig holds diagnostic logging configuration.
type LoggerConfig struct {
	Level string `validate:"oneof=debug info warn warning error"`
}

// PathsConfig holds the directory layout shared by server and client.
type PathsConfig struct {
	// RecordsDir holds the per-library record files.
	RecordsDir string `validate:"required"`
	// LogsDir holds the per-library operation logs.
	LogsDir string `validate:"required"`
	// SocketsDir holds the per-server listening sockets.
	SocketsDir string `validate:"required"`
	// BuildDir holds temp and backup files for atomic rewrites.
	BuildDir string `validate:"required"`
	// RegistryPath is the shared configuration file listing live servers.
	RegistryPath string `validate:"required"`
	// SemaphoreDir holds the named semaphores of the registry lock.
	SemaphoreDir string `validate:"required"`
}

// ServerConfig holds server tunables.
type ServerConfig struct {
	// QueueCapacity bounds the dispatch queue (default 20).
	QueueCapacity int `validate:"gt=0"`
}

// ServerArgs are the positional server CLI arguments:
// bibserver <library-name> <record-basename> <W>.
type ServerArgs struct {
	LibraryName string `validate:"required,max=64"`
	RecordBase  string `validate:"required"`
	Workers     int    `validate:"required,gt=0"`
}

// Load builds the configuration from args with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
//
// It returns the remaining positional arguments.
func Load(args []string) (*Config, []string, error) {
	fs := flag.NewFlagSet("bibliofed", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	recordsDir := fs.String("records-dir", "", "Directory holding record files")
	logsDir := fs.String("logs-dir", "", "Directory holding operation logs")
	socketsDir := fs.String("sockets-dir", "", "Directory holding server sockets")
	buildDir := fs.String("build-dir", "", "Directory for temp and backup files")
	registryPath := fs.String("registry", "", "Path of the shared server registry")
	semDir := fs.String("sem-dir", "", "Directory for the registry lock semaphores")
	queueCapacity := fs.String("queue-capacity", "", "Dispatch queue capacity (default: 20)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Paths: PathsConfig{
			RecordsDir:   getConfigValue(*recordsDir, "RECORDS_DIR", filepath.Join("data", "file_records")),
			LogsDir:      getConfigValue(*logsDir, "LOGS_DIR", "logs"),
			SocketsDir:   getConfigValue(*socketsDir, "SOCKETS_DIR", "sockets"),
			BuildDir:     getConfigValue(*buildDir, "BUILD_DIR", "build"),
			RegistryPath: getConfigValue(*registryPath, "REGISTRY_PATH", filepath.Join("config", "bib.conf")),
			SemaphoreDir: getConfigValue(*semDir, "SEM_DIR", filepath.Join(os.TempDir(), "bibliofed-sem")),
		},
		Server: ServerConfig{
			QueueCapacity: getIntConfigValue(*queueCapacity, "QUEUE_CAPACITY", dispatch.DefaultCapacity),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, fs.Args(), nil
}

// Default returns the configuration from environment and defaults only,
// without touching command-line flags. The client uses it: its argument
// list is the query itself.
func Default() (*Config, error) {
	cfg, _, err := Load(nil)
	return cfg, err
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	return validation.New().Validate(c)
}

// ParseServerArgs validates the positional server CLI arguments. W must be
// a positive integer string.
func ParseServerArgs(positional []string) (ServerArgs, error) {
	if len(positional) != 3 {
		return ServerArgs{}, fmt.Errorf("expected <library-name> <record-basename> <W>, got %d arguments", len(positional))
	}

	workers, err := strconv.Atoi(positional[2])
	if err != nil {
		return ServerArgs{}, fmt.Errorf("W must be a positive integer, got %q", positional[2])
	}

	args := ServerArgs{
		LibraryName: positional[0],
		RecordBase:  positional[1],
		Workers:     workers,
	}
	if err := validation.New().Validate(args); err != nil {
		return ServerArgs{}, err
	}
	return args, nil
}

// RecordPath resolves a record file from its basename.
func (c *Config) RecordPath(basename string) string {
	return filepath.Join(c.Paths.RecordsDir, basename+".txt")
}

// LogPath resolves a library's operation log file.
func (c *Config) LogPath(libraryName string) string {
	return filepath.Join(c.Paths.LogsDir, libraryName+".log")
}

// SocketPath resolves the per-process server socket.
func (c *Config) SocketPath(pid int) string {
	return filepath.Join(c.Paths.SocketsDir, fmt.Sprintf("socketServer_%d", pid))
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
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)

		// Env vars take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
