// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// DefaultScheduleExpression fires at 17:00 Monday through Friday
const DefaultScheduleExpression = "0 17 * * 1-5"

// Config holds application configuration
type Config struct {
	ScheduleExpression  string
	ScheduleTimezone    string
	MaintenanceSchedule string // SQLite only; empty disables
	FinnhubAPIKey       string
	AlphaVantageAPIKey  string
	AlphaVantageQuota   int // Requests per day; 0 disables the client-side counter
	TickersFile         string
	DatabaseURL         string // postgres:// URL; empty selects SQLite under DataDir
	DataDir             string // Always absolute
	LogLevel            string
	ChunkSize           int
	ChunkWait           time.Duration
	CorporateChunkSize  int
	CorporateChunkWait  time.Duration
	StatusPort          int // 0 disables the status API
	RunScheduled        bool
	LogPretty           bool
	Archive             *ArchiveConfig
}

// ArchiveConfig configures the optional run-report upload to S3-compatible storage
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string // Empty uses the AWS default resolver
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether run reports should be uploaded
func (a *ArchiveConfig) Enabled() bool {
	return a != nil && a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		RunScheduled:        getEnvAsBool("RUN_SCHEDULED", false),
		ScheduleExpression:  getEnv("SCHEDULE_EXPRESSION", DefaultScheduleExpression),
		ScheduleTimezone:    getEnv("SCHEDULE_TIMEZONE", "America/New_York"),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "30 3 * * *"),
		FinnhubAPIKey:       getEnv("FINNHUB_API_KEY", ""),
		AlphaVantageAPIKey:  getEnv("ALPHAVANTAGE_API_KEY", ""),
		AlphaVantageQuota:   getEnvAsInt("ALPHAVANTAGE_DAILY_LIMIT", 25),
		TickersFile:         getEnv("TICKERS_FILE", "./t.txt"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DataDir:             dataDir,
		ChunkSize:           getEnvAsInt("CHUNK_SIZE", 30),
		ChunkWait:           getEnvAsDuration("CHUNK_WAIT", 35*time.Second),
		CorporateChunkSize:  getEnvAsInt("CORPORATE_CHUNK_SIZE", 5),
		CorporateChunkWait:  getEnvAsDuration("CORPORATE_CHUNK_WAIT", 65*time.Second),
		StatusPort:          getEnvAsInt("STATUS_PORT", 0),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           getEnvAsBool("LOG_PRETTY", true),
		Archive: &ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.FinnhubAPIKey == "" {
		return fmt.Errorf("FINNHUB_API_KEY is required")
	}
	if c.AlphaVantageAPIKey == "" {
		return fmt.Errorf("ALPHAVANTAGE_API_KEY is required")
	}
	if c.TickersFile == "" {
		return fmt.Errorf("TICKERS_FILE is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.CorporateChunkSize <= 0 {
		return fmt.Errorf("CORPORATE_CHUNK_SIZE must be positive, got %d", c.CorporateChunkSize)
	}
	if c.ChunkWait < 0 || c.CorporateChunkWait < 0 {
		return fmt.Errorf("chunk waits must not be negative")
	}
	if c.AlphaVantageQuota < 0 {
		return fmt.Errorf("ALPHAVANTAGE_DAILY_LIMIT must not be negative, got %d", c.AlphaVantageQuota)
	}
	if c.StatusPort < 0 {
		return fmt.Errorf("STATUS_PORT must not be negative, got %d", c.StatusPort)
	}

	if c.RunScheduled {
		if _, err := cron.ParseStandard(c.ScheduleExpression); err != nil {
			return fmt.Errorf("invalid SCHEDULE_EXPRESSION %q: %w", c.ScheduleExpression, err)
		}
		if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
			return fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", c.ScheduleTimezone, err)
		}
		if c.MaintenanceSchedule != "" {
			if _, err := cron.ParseStandard(c.MaintenanceSchedule); err != nil {
				return fmt.Errorf("invalid MAINTENANCE_SCHEDULE %q: %w", c.MaintenanceSchedule, err)
			}
		}
	}

	if c.Archive.Enabled() && (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		return fmt.Errorf("ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY must be set together")
	}

	return nil
}

// UsesPostgres reports whether DatabaseURL selects the Postgres pool
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// SQLitePath returns the SQLite file used when no Postgres URL is configured
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "instruments.db")
}

// Location returns the time zone the schedule expression is evaluated in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("35s") or bare milliseconds ("35000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
