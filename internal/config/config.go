// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	TraderID string // Trader instance id, tags every strategy and order
	DataDir  string // Base directory for the store and backup staging

	LogLevel  string
	LogPretty bool

	Port    int // Ops API port
	DevMode bool

	BusCapacity int // Message bus queue capacity

	// Market data feed
	FeedURL           string // WebSocket endpoint, empty disables the feed
	FeedVenue         string
	FeedSubscribeRate int // Subscribe requests per second

	// Store maintenance
	SnapshotSchedule   string // cron spec for store snapshots
	CheckpointSchedule string // cron spec for WAL checkpoints

	// Off-site backup (S3-compatible)
	Backup BackupConfig
}

// BackupConfig holds object storage backup settings
type BackupConfig struct {
	Enabled       bool
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
	Schedule      string // cron spec for backup uploads
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MERIDIAN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		TraderID:           getEnv("MERIDIAN_TRADER_ID", "TRADER-001"),
		DataDir:            absDataDir,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvAsBool("LOG_PRETTY", false),
		Port:               getEnvAsInt("MERIDIAN_PORT", 8021),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		BusCapacity:        getEnvAsInt("BUS_CAPACITY", 65536),
		FeedURL:            getEnv("FEED_URL", ""),
		FeedVenue:          getEnv("FEED_VENUE", "SIM"),
		FeedSubscribeRate:  getEnvAsInt("FEED_SUBSCRIBE_RATE", 5),
		SnapshotSchedule:   getEnv("SNAPSHOT_SCHEDULE", "@every 5m"),
		CheckpointSchedule: getEnv("CHECKPOINT_SCHEDULE", "@hourly"),
		Backup: BackupConfig{
			Enabled:       getEnvAsBool("BACKUP_ENABLED", false),
			Endpoint:      getEnv("BACKUP_ENDPOINT", ""),
			Bucket:        getEnv("BACKUP_BUCKET", ""),
			AccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
			Schedule:      getEnv("BACKUP_SCHEDULE", "@daily"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// StorePath returns the execution store database path
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "meridian.db")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.TraderID == "" {
		return fmt.Errorf("MERIDIAN_TRADER_ID must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("MERIDIAN_PORT %d out of range", c.Port)
	}
	if c.BusCapacity <= 0 {
		return fmt.Errorf("BUS_CAPACITY must be positive, got %d", c.BusCapacity)
	}
	if c.FeedSubscribeRate <= 0 {
		return fmt.Errorf("FEED_SUBSCRIBE_RATE must be positive, got %d", c.FeedSubscribeRate)
	}
	if c.Backup.Enabled {
		if c.Backup.Endpoint == "" || c.Backup.Bucket == "" {
			return fmt.Errorf("backup enabled but BACKUP_ENDPOINT or BACKUP_BUCKET missing")
		}
		if c.Backup.AccessKey == "" || c.Backup.SecretKey == "" {
			return fmt.Errorf("backup enabled but access credentials missing")
		}
		if c.Backup.RetentionDays < 0 {
			return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative")
		}
	}
	return nil
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
