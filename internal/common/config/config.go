package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database DatabaseConfig
	Static   StaticConfig
	Realtime RealtimeConfig
	Logging  LoggingConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// StaticConfig for the static schedule load job
type StaticConfig struct {
	SourceDir    string // directory with GTFS CSV files when not downloading
	DownloadURL  string
	DownloadDir  string
	BatchSize    int
	RefreshViews bool
	CleanupAge   time.Duration
}

// RealtimeConfig for the realtime feed load job
type RealtimeConfig struct {
	SourceDir  string // directory with saved .pb snapshots when not fetching
	APIKey     string
	Feeds      []FeedEndpoint
	CleanupAge time.Duration
}

// FeedEndpoint names one realtime feed kind and where its bytes come from
type FeedEndpoint struct {
	Kind string // "trip_updates", "vehicle_positions", "alerts"
	URL  string
	File string // snapshot file name under SourceDir
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

type NotifyConfig struct {
	WebhookURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "transitdelay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Static: StaticConfig{
			SourceDir:    getEnv("GTFS_STATIC_DIR", ""),
			DownloadURL:  getEnv("GTFS_STATIC_URL", ""),
			DownloadDir:  getEnv("GTFS_STATIC_DOWNLOAD_DIR", "downloads/gtfs-static"),
			BatchSize:    getIntEnv("GTFS_STATIC_BATCH_SIZE", 500),
			RefreshViews: getBoolEnv("GTFS_REFRESH_VIEWS", true),
			CleanupAge:   getDurationEnv("GTFS_STATIC_CLEANUP_AGE", 30*24*time.Hour),
		},
		Realtime: RealtimeConfig{
			SourceDir: getEnv("GTFS_RT_DIR", "downloads/gtfs-realtime"),
			APIKey:    getEnv("GTFS_RT_API_KEY", ""),
			Feeds: []FeedEndpoint{
				{
					Kind: "trip_updates",
					URL:  getEnv("GTFS_RT_TRIP_UPDATES_URL", ""),
					File: "translink_gtfsrt.pb",
				},
				{
					Kind: "vehicle_positions",
					URL:  getEnv("GTFS_RT_VEHICLE_POSITIONS_URL", ""),
					File: "translink_gtfsposition.pb",
				},
				{
					Kind: "alerts",
					URL:  getEnv("GTFS_RT_ALERTS_URL", ""),
					File: "translink_gtfsalerts.pb",
				},
			},
			CleanupAge: getDurationEnv("GTFS_RT_CLEANUP_AGE", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "transitloader.log"),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" || c.DBName == "" || c.User == "" {
		return fmt.Errorf("database config incomplete: host, user and dbname are required")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
