// internal/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Auth          AuthConfig         `yaml:"auth"`
	Redis         RedisConfig        `yaml:"redis"`
	Miners        []MinerConfig      `yaml:"miners"`
	Include       IncludeConfig      `yaml:"include"`
}

type ServerConfig struct {
	Port         string          `yaml:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits ingestion requests per client IP.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Type            string        `yaml:"type"`
	Path            string        `yaml:"path"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SampleRetention time.Duration `yaml:"sample_retention"`
	AlertRetention  time.Duration `yaml:"alert_retention"`
	CompactInterval time.Duration `yaml:"compact_interval"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type MonitoringConfig struct {
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
	OfflineAfter      time.Duration `yaml:"offline_after"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	DailySummaryHour  int           `yaml:"daily_summary_hour"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	PollWorkers       int           `yaml:"poll_workers"`
	MetricsInterval   time.Duration `yaml:"metrics_interval"`
	HistoricalMaxRows int           `yaml:"historical_max_rows"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

// TelegramConfig holds the fallback credentials used when none are stored in
// settings.
type TelegramConfig struct {
	Token   string        `yaml:"token"`
	ChatID  string        `yaml:"chat_id"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ThrottleConfig caps the total number of notifications per window.
type ThrottleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Window   time.Duration `yaml:"window"`
	MaxTotal int           `yaml:"max_total"`
}

type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	LoginCode string        `yaml:"login_code"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// MinerConfig is a device the poller fetches telemetry from.
type MinerConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

// PartialConfig is the subset an include file may carry.
type PartialConfig struct {
	Notifications *NotificationConfig `yaml:"notifications,omitempty"`
	Miners        []MinerConfig       `yaml:"miners,omitempty"`
}

// Load reads filename, merges includes, applies environment overrides,
// fills defaults and validates. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	applyEnvOverrides(config)
	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// DefaultDailySummaryHour is used when the file does not set one. Zero is a
// valid hour, so it is preset before parsing rather than filled in later.
const DefaultDailySummaryHour = 8

func loadConfigFile(filename string) (*Config, error) {
	config := Config{}
	config.Monitoring.DailySummaryHour = DefaultDailySummaryHour
	if filename == "" {
		return &config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	if len(partial.Miners) > 0 {
		mergeMiners(config, partial.Miners)
	}
	if partial.Notifications != nil {
		mergeNotificationConfig(&config.Notifications, partial.Notifications)
	}
}

// mergeMiners appends new miners and replaces ones with a known ID.
func mergeMiners(config *Config, miners []MinerConfig) {
	existing := make(map[string]int)
	for i, m := range config.Miners {
		existing[m.ID] = i
	}

	for _, m := range miners {
		if i, ok := existing[m.ID]; ok && m.ID != "" {
			config.Miners[i] = m
			continue
		}
		config.Miners = append(config.Miners, m)
		existing[m.ID] = len(config.Miners) - 1
	}
}

func mergeNotificationConfig(main *NotificationConfig, partial *NotificationConfig) {
	if partial.Telegram.Token != "" {
		main.Telegram.Token = partial.Telegram.Token
	}
	if partial.Telegram.ChatID != "" {
		main.Telegram.ChatID = partial.Telegram.ChatID
	}
	if partial.Telegram.APIURL != "" {
		main.Telegram.APIURL = partial.Telegram.APIURL
	}
	if partial.Telegram.Timeout != 0 {
		main.Telegram.Timeout = partial.Telegram.Timeout
	}
	if partial.Throttle.Enabled {
		main.Throttle = partial.Throttle
	}
}

// applyEnvOverrides lets the environment win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOGIN_CODE"); v != "" {
		cfg.Auth.LoginCode = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notifications.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv("BITAXE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BITAXE_LISTEN"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":5000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 2
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 10
	}

	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/bitaxe.db"
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = time.Hour
	}
	if cfg.Database.SampleRetention == 0 {
		cfg.Database.SampleRetention = 30 * 24 * time.Hour
	}
	if cfg.Database.AlertRetention == 0 {
		cfg.Database.AlertRetention = 7 * 24 * time.Hour
	}

	// Monitoring defaults
	if cfg.Monitoring.WatchdogInterval == 0 {
		cfg.Monitoring.WatchdogInterval = 5 * time.Minute
	}
	if cfg.Monitoring.OfflineAfter == 0 {
		cfg.Monitoring.OfflineAfter = 30 * time.Minute
	}
	if cfg.Monitoring.ErrorBackoff == 0 {
		cfg.Monitoring.ErrorBackoff = 60 * time.Second
	}
	if cfg.Monitoring.PollInterval == 0 {
		cfg.Monitoring.PollInterval = 30 * time.Second
	}
	if cfg.Monitoring.PollTimeout == 0 {
		cfg.Monitoring.PollTimeout = 10 * time.Second
	}
	if cfg.Monitoring.PollWorkers == 0 {
		cfg.Monitoring.PollWorkers = 3
	}
	if cfg.Monitoring.MetricsInterval == 0 {
		cfg.Monitoring.MetricsInterval = time.Minute
	}
	if cfg.Monitoring.HistoricalMaxRows == 0 {
		cfg.Monitoring.HistoricalMaxRows = 10000
	}

	// Prometheus defaults
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	// Notification defaults
	if cfg.Notifications.Telegram.APIURL == "" {
		cfg.Notifications.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Notifications.Telegram.Timeout == 0 {
		cfg.Notifications.Telegram.Timeout = 10 * time.Second
	}
	if cfg.Notifications.Throttle.Window == 0 {
		cfg.Notifications.Throttle.Window = 15 * time.Minute
	}
	if cfg.Notifications.Throttle.MaxTotal == 0 {
		cfg.Notifications.Throttle.MaxTotal = 20
	}

	// Auth defaults
	if cfg.Auth.LoginCode == "" {
		cfg.Auth.LoginCode = "1234"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}

	// Redis defaults
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = time.Hour
	}

	// Include defaults
	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	for i := range cfg.Miners {
		if cfg.Miners[i].ID == "" {
			cfg.Miners[i].ID = cfg.Miners[i].Address
		}
		if cfg.Miners[i].Name == "" {
			cfg.Miners[i].Name = cfg.Miners[i].ID
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Type != "boltdb" {
		return fmt.Errorf("only boltdb is supported currently")
	}
	if cfg.Database.SampleRetention < 0 || cfg.Database.AlertRetention < 0 {
		return fmt.Errorf("database retention must not be negative")
	}
	if cfg.Monitoring.WatchdogInterval <= 0 {
		return fmt.Errorf("monitoring.watchdog_interval must be positive")
	}
	if cfg.Monitoring.OfflineAfter <= 0 {
		return fmt.Errorf("monitoring.offline_after must be positive")
	}
	if cfg.Monitoring.DailySummaryHour < 0 || cfg.Monitoring.DailySummaryHour > 23 {
		return fmt.Errorf("monitoring.daily_summary_hour must be between 0 and 23")
	}
	if cfg.Monitoring.PollWorkers < 1 {
		return fmt.Errorf("monitoring.poll_workers must be at least 1")
	}
	if cfg.Server.RateLimit.RequestsPerSecond < 0 || cfg.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	if cfg.Notifications.Throttle.MaxTotal < 1 {
		return fmt.Errorf("notifications.throttle.max_total must be at least 1")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if cfg.Auth.Enabled && len(cfg.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters when auth is enabled")
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	minerIDs := make(map[string]bool)
	for _, miner := range cfg.Miners {
		if miner.Address == "" {
			return fmt.Errorf("miner '%s' has no address", miner.ID)
		}
		if !isValidAddress(miner.Address) {
			return fmt.Errorf("miner '%s' has invalid address: %s", miner.ID, miner.Address)
		}
		if minerIDs[miner.ID] {
			return fmt.Errorf("duplicate miner ID: %s", miner.ID)
		}
		minerIDs[miner.ID] = true
	}

	return nil
}

// EnabledMiners returns the miners the poller should fetch.
func (c *Config) EnabledMiners() []MinerConfig {
	var miners []MinerConfig
	for _, m := range c.Miners {
		if m.Enabled {
			miners = append(miners, m)
		}
	}
	return miners
}

func isValidGlobPattern(pattern string) bool {
	_, err := filepath.Match(pattern, "test")
	return err == nil
}

// isValidAddress accepts host or host:port.
func isValidAddress(addr string) bool {
	if strings.ContainsAny(addr, "/ ") {
		return false
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host != ""
	}
	return true
}
