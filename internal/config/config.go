package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Stream configuration document selection
	Streams StreamsConfig

	// Cursor state persistence
	State StateConfig

	// Log configuration
	LogLevel string

	// Tailing limits
	Tail TailConfig

	// Server Configuration
	Server ServerConfig
}

// StreamsConfig selects the configuration document holding node name and streams
type StreamsConfig struct {
	Profile string // TAILLOG_CONFIGURATION, names <Dir>/<Profile>.json
	Dir     string
	Path    string // Explicit document path, overrides Dir/Profile when set
}

// StateConfig contains cursor persistence settings
type StateConfig struct {
	Backend string // file or sqlite
	Path    string // JSON cursor document for the file backend
	DBPath  string // SQLite database for the sqlite backend
}

// TailConfig contains per-cycle bounds
type TailConfig struct {
	MaxLoadBytes   int64         // Largest file delta loaded into memory in one cycle
	TableBatchSize int           // Rows fetched per table source per cycle
	PollDeadline   time.Duration // Deadline for one whole poll cycle
	PollWorkers    int           // Sources read concurrently within a cycle
	UpdateInterval time.Duration // Suggested client polling interval
	ResetOnStart   bool          // Skip the backlog when the server starts
	QueryDebug     bool          // Log every table query with its timing
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host       string
	Port       int
	Production bool
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Streams: StreamsConfig{
			Profile: getEnv("TAILLOG_CONFIGURATION", "default"),
			Dir:     getEnv("CONFIG_DIR", "config"),
		},
		State: StateConfig{
			Backend: getEnv("CURSOR_BACKEND", "file"),
			Path:    getEnv("STATE_PATH", "var/state.json"),
			DBPath:  getEnv("DB_PATH", "var/taillogs.db"),
		},
		Tail: TailConfig{
			MaxLoadBytes:   getEnvAsInt64("MAX_LOAD_BYTES", 20971520),
			TableBatchSize: getEnvAsInt("TABLE_BATCH_SIZE", 1000),
			PollDeadline:   getEnvAsDuration("POLL_DEADLINE", 10*time.Second),
			PollWorkers:    getEnvAsInt("POLL_WORKERS", 4),
			UpdateInterval: getEnvAsDuration("UPDATE_INTERVAL", 2*time.Second),
			ResetOnStart:   getEnvAsBool("RESET_ON_START", true),
			QueryDebug:     getEnvAsBool("QUERY_DEBUG", false),
		},
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("SERVER_PORT", 8080),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// DocumentPath returns the configuration document to load
func (c StreamsConfig) DocumentPath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(c.Dir, c.Profile+".json")
}

// LockPath returns the advisory lock file guarding cursor and configuration writes
func (c StateConfig) LockPath() string {
	if c.Backend == "sqlite" {
		return c.DBPath + ".lock"
	}
	return c.Path + ".lock"
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
