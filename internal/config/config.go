package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// API
	APIPort         int
	APIKey          string
	CORSAllowOrigin string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	DBMigrate   bool
	DBMaxConns  int32

	// Redis (remote tier of the watchlist sync)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Watchlist sync
	DeviceID      string
	SyncCachePath string
	SyncInterval  time.Duration

	// Price watcher
	PriceCheckInterval time.Duration
	PriceAPIURL        string

	// Vision extraction
	VisionAPIURL string
	VisionAPIKey string

	// Notifications
	WebhookURL string
	BotName    string

	// Logging / metrics
	LogLevel         string
	LogFormat        string
	MetricsNamespace string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		APIPort:         envInt("API_PORT", 3001),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		DBHost:      envStr("DB_HOST", "localhost"),
		DBPort:      envInt("DB_PORT", 5432),
		DBName:      envStr("DB_NAME", "botdash"),
		DBUser:      envStr("DB_USER", ""),
		DBPassword:  envStr("DB_PASSWORD", ""),
		DBMigrate:   envBool("DB_MIGRATE", true),
		DBMaxConns:  int32(envInt("DB_MAX_CONNS", 20)),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		DeviceID:      envStr("DEVICE_ID", "server-"+hostname),
		SyncCachePath: envStr("SYNC_CACHE_PATH", "data/watchlist.json"),
		SyncInterval:  envSeconds("SYNC_INTERVAL_SECONDS", 5),

		PriceCheckInterval: envSeconds("PRICE_CHECK_INTERVAL_SECONDS", 30),
		PriceAPIURL:        envStr("PRICE_API_URL", ""),

		VisionAPIURL: envStr("VISION_API_URL", ""),
		VisionAPIKey: envStr("VISION_API_KEY", ""),

		WebhookURL: envStr("WEBHOOK_URL", ""),
		BotName:    envStr("BOT_NAME", "BotDash"),

		LogLevel:         envStr("LOG_LEVEL", "info"),
		LogFormat:        envStr("LOG_FORMAT", "text"),
		MetricsNamespace: envStr("METRICS_NAMESPACE", "botdash"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" && c.DBUser == "" {
		errs = append(errs, "DB_USER (or DATABASE_URL) is required")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("API_PORT %d is out of range", c.APIPort))
	}
	if c.DBMaxConns < 0 {
		errs = append(errs, "DB_MAX_CONNS cannot be negative")
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, "SYNC_INTERVAL_SECONDS must be positive")
	}
	if c.PriceCheckInterval <= 0 {
		errs = append(errs, "PRICE_CHECK_INTERVAL_SECONDS must be positive")
	}
	if c.APIKey == "" {
		log.Warn("API_KEY not set, REST API has no authentication")
	}
	if c.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, watchlist sync runs on the local cache only")
	}
	if c.VisionAPIURL == "" {
		log.Warn("VISION_API_URL not set, /v1/extract is disabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Bot Dashboard Backend Configuration ===")
	fmt.Printf("API Port: %d\n", c.APIPort)
	fmt.Printf("API Auth: %s\n", boolLabel(c.APIKey != "", "enabled", "disabled"))
	fmt.Printf("Database: %s\n", redactDSN(c.DSN()))
	fmt.Println("--------------------------------------")
	fmt.Println("Watchlist Sync:")
	fmt.Printf("  Device: %s\n", c.DeviceID)
	fmt.Printf("  Local cache: %s\n", c.SyncCachePath)
	fmt.Printf("  Redis: %s\n", boolLabel(c.RedisAddr != "", c.RedisAddr, "not set (local only)"))
	fmt.Printf("  Interval: %s\n", c.SyncInterval)
	fmt.Printf("  Price checks: every %s\n", c.PriceCheckInterval)
	fmt.Println("--------------------------------------")
	fmt.Printf("Vision API: %s\n", boolLabel(c.VisionAPIURL != "", "configured", "not set"))
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set (log only)"))
	fmt.Printf("Logging: %s/%s\n", c.LogLevel, c.LogFormat)
	fmt.Println("======================================")
}

// DSN returns DATABASE_URL when set, otherwise a DSN built from the DB_* keys.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
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

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
