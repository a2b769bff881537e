// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for local databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	RulesDBPath     string // SQLite database holding user scan rules
	SnapshotsDBPath string // SQLite database holding persisted scanner state

	Redis   RedisConfig
	Scan    ScanConfig
	Archive ArchiveConfig
}

// RedisConfig holds the shared-store connection settings and key layout.
// Key names are configurable so the scanner can coexist with other tenants
// on one Redis instance.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	OpTimeout time.Duration // per-operation deadline

	SnapshotKey   string // raw snapshot written by the upstream ingester
	EnrichedKey   string // enriched ticker hash (one field per symbol + __meta__)
	LastCloseKey  string // frozen copy of the enriched hash at session close
	RVOLSlotKey   string // current-slot RVOL values
	ATRKey        string // reference: per-symbol ATR
	SlotAvgKey    string // reference: historical per-slot volume averages
	TradeStatsKey string // reference: 5-day trade count mean/stddev
	VWAPKey       string // reference: externally maintained VWAP

	RulesChannel       string // pub/sub: any message triggers a rule reload
	DayChannel         string // pub/sub: trading-day rollover
	SessionChannel     string // pub/sub: session open/close transitions
	DeltaChannelPrefix string // pub/sub: per-scan delta events

	EnrichedTTL  time.Duration
	LastCloseTTL time.Duration
	RVOLSlotTTL  time.Duration
}

// ScanConfig holds enrichment-cycle and scheduling settings.
type ScanConfig struct {
	Interval              time.Duration // pause between enrichment cycles
	SlotMinutes           int           // RVOL slot width
	MarketTimezone        string        // canonical market timezone (DST-aware)
	SafetyReloadInterval  time.Duration // periodic rule-count reconciliation
	StateSnapshotInterval time.Duration // periodic state persistence
	StatusInterval        time.Duration // status monitor sampling
}

// ArchiveConfig holds the optional S3-compatible last-close archive settings.
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string // custom endpoint for R2/MinIO; empty for AWS
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SCANNER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("SCANNER_PORT", 8010),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		RulesDBPath:     getEnv("RULES_DB_PATH", filepath.Join(absDataDir, "rules.db")),
		SnapshotsDBPath: getEnv("SNAPSHOTS_DB_PATH", filepath.Join(absDataDir, "snapshots.db")),

		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			OpTimeout: getEnvAsDuration("REDIS_OP_TIMEOUT", 5*time.Second),

			SnapshotKey:   getEnv("REDIS_SNAPSHOT_KEY", "scanner:raw_snapshot"),
			EnrichedKey:   getEnv("REDIS_ENRICHED_KEY", "scanner:enriched"),
			LastCloseKey:  getEnv("REDIS_LAST_CLOSE_KEY", "scanner:last_close"),
			RVOLSlotKey:   getEnv("REDIS_RVOL_SLOT_KEY", "scanner:rvol:current_slot"),
			ATRKey:        getEnv("REDIS_ATR_KEY", "scanner:ref:atr"),
			SlotAvgKey:    getEnv("REDIS_SLOT_AVG_KEY", "scanner:ref:volume_slots"),
			TradeStatsKey: getEnv("REDIS_TRADE_STATS_KEY", "scanner:ref:trade_stats"),
			VWAPKey:       getEnv("REDIS_VWAP_KEY", "scanner:ref:vwap"),

			RulesChannel:       getEnv("REDIS_RULES_CHANNEL", "scanner:rules_changed"),
			DayChannel:         getEnv("REDIS_DAY_CHANNEL", "scanner:day_changed"),
			SessionChannel:     getEnv("REDIS_SESSION_CHANNEL", "scanner:session_changed"),
			DeltaChannelPrefix: getEnv("REDIS_DELTA_CHANNEL_PREFIX", "scanner:deltas:"),

			EnrichedTTL:  getEnvAsDuration("ENRICHED_TTL", 10*time.Minute),
			LastCloseTTL: getEnvAsDuration("LAST_CLOSE_TTL", 7*24*time.Hour),
			RVOLSlotTTL:  getEnvAsDuration("RVOL_SLOT_TTL", 5*time.Minute),
		},

		Scan: ScanConfig{
			Interval:              getEnvAsDuration("SCAN_INTERVAL", time.Second),
			SlotMinutes:           getEnvAsInt("SLOT_MINUTES", 5),
			MarketTimezone:        getEnv("MARKET_TIMEZONE", "America/New_York"),
			SafetyReloadInterval:  getEnvAsDuration("SAFETY_RELOAD_INTERVAL", 5*time.Minute),
			StateSnapshotInterval: getEnvAsDuration("STATE_SNAPSHOT_INTERVAL", 5*time.Minute),
			StatusInterval:        getEnvAsDuration("STATUS_INTERVAL", 15*time.Second),
		},

		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "auto"),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR must not be empty")
	}
	if c.Redis.OpTimeout <= 0 {
		return fmt.Errorf("REDIS_OP_TIMEOUT must be positive")
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive")
	}
	if c.Scan.SlotMinutes <= 0 || c.Scan.SlotMinutes > 60 {
		return fmt.Errorf("SLOT_MINUTES must be in 1..60, got %d", c.Scan.SlotMinutes)
	}
	if c.Scan.MarketTimezone == "" {
		return fmt.Errorf("MARKET_TIMEZONE must not be empty")
	}
	if c.Scan.SafetyReloadInterval <= 0 {
		return fmt.Errorf("SAFETY_RELOAD_INTERVAL must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_S3_BUCKET required when archive is enabled")
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
