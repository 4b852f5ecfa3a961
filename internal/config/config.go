package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken   string
	LookupURL       string
	WebhookURL      string
	WebhookPath     string
	WebhookSecret   string
	AdminID         int64
	AdminContactURL string
	Port            int

	Storage StorageConfig

	LookupTimeout        time.Duration
	ProgressInterval     time.Duration
	CacheTTL             time.Duration
	DedupTTL             time.Duration
	DedupSize            int
	BroadcastWorkers     int
	HousekeepingInterval time.Duration
	DigestTime           string

	LogLevel  string
	LogFormat string
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	DatabaseURL   string
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
	MongoURI      string
	MongoDB       string
}

// Addr returns the listen address for the webhook server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DSN returns the storage connection string, building one from the MySQL or
// Mongo settings when DATABASE_URL is empty. An empty result means storage is
// not configured.
func (s StorageConfig) DSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	if s.MySQLHost != "" {
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			s.MySQLUser, s.MySQLPassword, s.MySQLHost, s.MySQLPort, s.MySQLDatabase)
	}
	return s.MongoURI
}

// Load reads configuration from environment variables and, when path is
// non-empty, from a config file. A missing bot token or storage setting is not
// an error: the features that need them degrade at runtime.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	adminID, err := parseAdminID(v.GetString("admin_id"))
	if err != nil {
		return Config{}, err
	}

	token := strings.TrimSpace(v.GetString("bot_token"))
	if token == "" {
		token = strings.TrimSpace(v.GetString("telegram_token"))
	}

	cfg := Config{
		TelegramToken:   token,
		LookupURL:       strings.TrimSpace(v.GetString("sheet_api_url")),
		WebhookURL:      strings.TrimSpace(v.GetString("webhook_url")),
		WebhookPath:     normalizePath(v.GetString("webhook_path")),
		WebhookSecret:   strings.TrimSpace(v.GetString("webhook_secret")),
		AdminID:         adminID,
		AdminContactURL: strings.TrimSpace(v.GetString("admin_contact_url")),
		Port:            v.GetInt("port"),
		Storage: StorageConfig{
			DatabaseURL:   strings.TrimSpace(v.GetString("database_url")),
			MySQLHost:     strings.TrimSpace(v.GetString("mysqlhost")),
			MySQLPort:     v.GetInt("mysqlport"),
			MySQLUser:     v.GetString("mysqluser"),
			MySQLPassword: v.GetString("mysqlpassword"),
			MySQLDatabase: v.GetString("mysqldatabase"),
			MongoURI:      strings.TrimSpace(v.GetString("mongo_uri")),
			MongoDB:       v.GetString("mongo_db"),
		},
		DedupSize:        v.GetInt("dedup_size"),
		BroadcastWorkers: v.GetInt("broadcast_workers"),
		DigestTime:       strings.TrimSpace(v.GetString("digest_time")),
		LogLevel:         strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"lookup_timeout", time.Second, &cfg.LookupTimeout},
		{"progress_interval", time.Millisecond, &cfg.ProgressInterval},
		{"cache_ttl", time.Second, &cfg.CacheTTL},
		{"dedup_ttl", time.Second, &cfg.DedupTTL},
		{"housekeeping_interval", time.Second, &cfg.HousekeepingInterval},
	}
	for _, d := range durations {
		val, err := parseDuration(v.GetString(d.key), d.unit)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", strings.ToUpper(d.key), err)
		}
		*d.dst = val
	}

	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 30 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.BroadcastWorkers <= 0 {
		cfg.BroadcastWorkers = 1
	}
	if cfg.Port <= 0 {
		cfg.Port = 5000
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("webhook_path", "/webhook")
	v.SetDefault("admin_contact_url", "https://t.me/testbitbot1")
	v.SetDefault("port", 5000)
	v.SetDefault("mysqlport", 3306)
	v.SetDefault("mongo_db", "Reward-Bot")
	v.SetDefault("lookup_timeout", "30s")
	v.SetDefault("progress_interval", "500ms")
	v.SetDefault("cache_ttl", "0s")
	v.SetDefault("dedup_ttl", "10m")
	v.SetDefault("dedup_size", 10000)
	v.SetDefault("broadcast_workers", 4)
	v.SetDefault("housekeeping_interval", "1m")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

func parseAdminID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ADMIN_ID must be a numeric Telegram id, got %q", raw)
	}
	return id, nil
}

// parseDuration accepts Go duration strings ("30s", "500ms"). A bare integer
// is read in unit.
func parseDuration(raw string, unit time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

func normalizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/webhook"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}
