// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/ingest.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// --------------------------------------------------------------------------
// State backends
// --------------------------------------------------------------------------

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// --------------------------------------------------------------------------
// Config struct: populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// State storage
	DataDirectory  string
	StateBackend   string // file, postgres, sqlite
	DatabaseURL    string
	SQLitePath     string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool
	LogLevel    slog.Level

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitClients  int

	// Decision engine
	LowBatteryThreshold  float64
	NotificationCooldown time.Duration
	HistoryRetention     time.Duration
	HistoryPruneSchedule string
	DisplayTimezone      *time.Location

	// Fetch cycle
	FetchInterval   time.Duration
	FetchJitter     time.Duration
	UserTaskTimeout time.Duration
	PollWorkers     int
	ReportCacheSize int

	// Push delivery
	VAPIDPublicKey          string
	VAPIDPrivateKey         string
	VAPIDClaimsEmail        string
	FirebaseCredentialsFile string

	// MQTT bridge (disabled when broker is empty)
	MQTTBrokerURL        string
	MQTTClientID         string
	MQTTReportTopic      string
	MQTTEventTopicPrefix string

	// Notification assets
	Icons IconPaths
}

// IconPaths are the static icon/badge paths placed in push payloads.
type IconPaths struct {
	DefaultIcon        string
	DefaultBadge       string
	GeofenceEntryBadge string
	GeofenceExitBadge  string
	BatteryLowBadge    string
	TestBadge          string
	WelcomeBadge       string
	WelcomeIcon        string
	TestIcon           string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	tzName := envOr("TZ_DISPLAY", "Local")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load TZ_DISPLAY %q: %w", tzName, err)
	}

	dataDir := envOr("DATA_DIRECTORY", "./data")

	cfg := &Config{
		DataDirectory:  dataDir,
		StateBackend:   strings.ToLower(envOr("STATE_BACKEND", BackendFile)),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		SQLitePath:     envOr("SQLITE_PATH", dataDir+"/tagwatch.db"),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogLevel:    envLevel("LOG_LEVEL", slog.LevelInfo),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,
		RateLimitClients:  envInt("RATE_LIMIT_CLIENTS", 10000),

		LowBatteryThreshold:  envFloat("LOW_BATTERY_THRESHOLD", 15),
		NotificationCooldown: time.Duration(envInt("NOTIFICATION_COOLDOWN_SECONDS", 300)) * time.Second,
		HistoryRetention:     time.Duration(envInt("NOTIFICATION_HISTORY_DAYS", 30)) * 24 * time.Hour,
		HistoryPruneSchedule: envOr("HISTORY_PRUNE_SCHEDULE", "0 3 * * *"),
		DisplayTimezone:      loc,

		FetchInterval:   time.Duration(envInt("FETCH_INTERVAL_MINUTES", 15)) * time.Minute,
		FetchJitter:     time.Duration(envInt("FETCH_JITTER_SECONDS", 30)) * time.Second,
		UserTaskTimeout: time.Duration(envInt("USER_TASK_TIMEOUT_SECONDS", 120)) * time.Second,
		PollWorkers:     envInt("POLL_WORKERS", 4),
		ReportCacheSize: envInt("REPORT_CACHE_SIZE", 50),

		VAPIDPublicKey:          envOr("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:         envOr("VAPID_PRIVATE_KEY", ""),
		VAPIDClaimsEmail:        envOr("VAPID_CLAIMS_EMAIL", ""),
		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),

		MQTTBrokerURL:        envOr("MQTT_BROKER_URL", ""),
		MQTTClientID:         envOr("MQTT_CLIENT_ID", "tagwatch"),
		MQTTReportTopic:      envOr("MQTT_REPORT_TOPIC", "findmy/+/+/report"),
		MQTTEventTopicPrefix: envOr("MQTT_EVENT_TOPIC_PREFIX", "findmy/events"),

		Icons: IconPaths{
			DefaultIcon:        envOr("DEFAULT_NOTIFICATION_ICON_PATH", "/static/img/icon-192.png"),
			DefaultBadge:       envOr("DEFAULT_NOTIFICATION_BADGE_PATH", "/static/img/badge-72.png"),
			GeofenceEntryBadge: envOr("GEOFENCE_ENTRY_BADGE_PATH", "/static/img/badge-entry.png"),
			GeofenceExitBadge:  envOr("GEOFENCE_EXIT_BADGE_PATH", "/static/img/badge-exit.png"),
			BatteryLowBadge:    envOr("BATTERY_LOW_BADGE_PATH", "/static/img/badge-battery.png"),
			TestBadge:          envOr("TEST_BADGE_PATH", "/static/img/badge-test.png"),
			WelcomeBadge:       envOr("WELCOME_BADGE_PATH", "/static/img/badge-72.png"),
			WelcomeIcon:        envOr("WELCOME_NOTIFICATION_ICON_PATH", "/static/img/icon-192.png"),
			TestIcon:           envOr("TEST_NOTIFICATION_ICON_PATH", "/static/img/icon-192.png"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.StateBackend {
	case BackendFile:
		if c.DataDirectory == "" {
			return fmt.Errorf("DATA_DIRECTORY must be set for the file backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}
	if c.LowBatteryThreshold <= 0 || c.LowBatteryThreshold > 100 {
		return fmt.Errorf("LOW_BATTERY_THRESHOLD must be in (0, 100], got %v", c.LowBatteryThreshold)
	}
	if c.NotificationCooldown <= 0 {
		return fmt.Errorf("NOTIFICATION_COOLDOWN_SECONDS must be positive")
	}
	if c.HistoryRetention <= 0 {
		return fmt.Errorf("NOTIFICATION_HISTORY_DAYS must be positive")
	}
	if c.FetchInterval <= 0 {
		return fmt.Errorf("FETCH_INTERVAL_MINUTES must be positive")
	}
	if _, err := cron.ParseStandard(c.HistoryPruneSchedule); err != nil {
		return fmt.Errorf("invalid HISTORY_PRUNE_SCHEDULE %q: %w", c.HistoryPruneSchedule, err)
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// VAPIDEnabled reports whether Web Push delivery can sign requests.
func (c *Config) VAPIDEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != "" && c.VAPIDClaimsEmail != ""
}

// MQTTEnabled reports whether the MQTT bridge should connect.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBrokerURL != ""
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
