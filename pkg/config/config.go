package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. IGSYNC_INSTAGRAM_ACCESS_TOKEN.
// Keys are derived from field names with split_words so no unprefixed variable
// (PATH, USERNAME) can leak into the config.
const EnvPrefix = "IGSYNC"

// Config holds all configuration options for the sync service
type Config struct {
	// Official Graph API
	Instagram InstagramConfig `yaml:"instagram" json:"instagram" split_words:"true"`

	// Session emulation (private API)
	Session SessionConfig `yaml:"session" json:"session" split_words:"true"`

	// Managed scraping service
	Scraper ScraperConfig `yaml:"scraper" json:"scraper" split_words:"true"`

	// Local cache replay
	Cache CacheConfig `yaml:"cache" json:"cache" split_words:"true"`

	// Strategy ordering
	Fallback FallbackConfig `yaml:"fallback" json:"fallback" split_words:"true"`

	// Outbound rate limiting per strategy
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" split_words:"true"`

	// Sync run settings
	Sync SyncConfig `yaml:"sync" json:"sync" split_words:"true"`

	Database DatabaseConfig `yaml:"database" json:"database" split_words:"true"`
	Redis    RedisConfig    `yaml:"redis" json:"redis" split_words:"true"`
	Server   ServerConfig   `yaml:"server" json:"server" split_words:"true"`

	// Event extraction collaborators
	Caption CaptionConfig `yaml:"caption" json:"caption" split_words:"true"`
	OCR     OCRConfig     `yaml:"ocr" json:"ocr" split_words:"true"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging" split_words:"true"`
}

// InstagramConfig holds Graph API settings
type InstagramConfig struct {
	AccessToken string        `yaml:"access_token" json:"access_token" split_words:"true"`
	AppSecret   string        `yaml:"app_secret" json:"app_secret" split_words:"true"`
	BaseURL     string        `yaml:"base_url" json:"base_url" split_words:"true"`
	WebBaseURL  string        `yaml:"web_base_url" json:"web_base_url" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" split_words:"true"`
}

// SessionConfig holds session emulation settings
type SessionConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" split_words:"true"`
	Username       string        `yaml:"username" json:"username" split_words:"true"`
	Password       string        `yaml:"password" json:"password" split_words:"true"`
	AutoFollow     bool          `yaml:"auto_follow" json:"auto_follow" split_words:"true"`
	FollowCooldown time.Duration `yaml:"follow_cooldown" json:"follow_cooldown" split_words:"true"`
	BaseURL        string        `yaml:"base_url" json:"base_url" split_words:"true"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent" split_words:"true"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" split_words:"true"`
}

// ScraperConfig holds managed scraper (Apify) settings
type ScraperConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled" split_words:"true"`
	APIToken     string        `yaml:"api_token" json:"api_token" split_words:"true"`
	Actor        string        `yaml:"actor" json:"actor" split_words:"true"`
	BaseURL      string        `yaml:"base_url" json:"base_url" split_words:"true"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" split_words:"true"`
	PollTimeout  time.Duration `yaml:"poll_timeout" json:"poll_timeout" split_words:"true"`
}

// CacheConfig holds cache replay settings
type CacheConfig struct {
	MaxAge time.Duration `yaml:"max_age" json:"max_age" split_words:"true"`
}

// FallbackConfig controls the orchestrator
type FallbackConfig struct {
	Order            []string `yaml:"order" json:"order" split_words:"true"`
	WebPageEnabled   bool     `yaml:"web_page_enabled" json:"web_page_enabled" split_words:"true"`
	Preflight        bool     `yaml:"preflight" json:"preflight" split_words:"true"`
	RateLimitRetries int      `yaml:"rate_limit_retries" json:"rate_limit_retries" split_words:"true"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests" split_words:"true"`
	Window      time.Duration `yaml:"window" json:"window" split_words:"true"`
}

// SyncConfig holds sync run settings
type SyncConfig struct {
	PostsPerProfile int    `yaml:"posts_per_profile" json:"posts_per_profile" split_words:"true"`
	Schedule        string `yaml:"schedule" json:"schedule" split_words:"true"`
	Timezone        string `yaml:"timezone" json:"timezone" split_words:"true"`
	StateFile       string `yaml:"state_file" json:"state_file" split_words:"true"`
}

// DatabaseConfig selects the event store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver" split_words:"true"`
	Path   string `yaml:"path" json:"path" split_words:"true"`
	DSN    string `yaml:"dsn" json:"dsn" split_words:"true"`
}

// RedisConfig enables the distributed run lock when Addr is set
type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr" split_words:"true"`
	Password string        `yaml:"password" json:"password" split_words:"true"`
	DB       int           `yaml:"db" json:"db" split_words:"true"`
	LockTTL  time.Duration `yaml:"lock_ttl" json:"lock_ttl" split_words:"true"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr           string        `yaml:"addr" json:"addr" split_words:"true"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" split_words:"true"`
}

// CaptionConfig configures the LLM caption transformer
type CaptionConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url" split_words:"true"`
	APIKey            string        `yaml:"api_key" json:"api_key" split_words:"true"`
	Model             string        `yaml:"model" json:"model" split_words:"true"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" split_words:"true"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" split_words:"true"`
}

// OCRConfig configures the OCR collaborator; an empty endpoint disables OCR
type OCRConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint" split_words:"true"`
	APIKey   string        `yaml:"api_key" json:"api_key" split_words:"true"`
	Language string        `yaml:"language" json:"language" split_words:"true"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" split_words:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" split_words:"true"`
	File   string `yaml:"file" json:"file" split_words:"true"`
	Format string `yaml:"format" json:"format" split_words:"true"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			BaseURL:    "https://graph.instagram.com",
			WebBaseURL: "https://www.instagram.com",
			Timeout:    30 * time.Second,
		},
		Session: SessionConfig{
			AutoFollow:     true,
			FollowCooldown: 2 * time.Second,
			BaseURL:        "https://i.instagram.com",
			UserAgent:      "Instagram 275.0.0.27.98 Android (33/13; 420dpi; 1080x2400; samsung; SM-G991B; o1s; exynos2100; en_US; 458229237)",
			Timeout:        30 * time.Second,
		},
		Scraper: ScraperConfig{
			Actor:        "apify~instagram-scraper",
			BaseURL:      "https://api.apify.com",
			PollInterval: 2 * time.Second,
			PollTimeout:  5 * time.Minute,
		},
		Cache: CacheConfig{
			MaxAge: 7 * 24 * time.Hour,
		},
		Fallback: FallbackConfig{
			Order:     []string{"official", "session", "managed_scraper"},
			Preflight: true,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 10,
			Window:      time.Minute,
		},
		Sync: SyncConfig{
			PostsPerProfile: 3,
			Schedule:        "0 */6 * * *",
			Timezone:        "America/Sao_Paulo",
			StateFile:       "./data/last_sync.json",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/igsync.db",
		},
		Redis: RedisConfig{
			LockTTL: 30 * time.Minute,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 15 * time.Minute,
		},
		Caption: CaptionConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			RequestsPerMinute: 15,
			Timeout:           30 * time.Second,
		},
		OCR: OCRConfig{
			Language: "por",
			Timeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv overrides fields from IGSYNC_* environment variables.
// Unset variables leave the current value untouched.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igsync.yaml",
		".igsync.yml",
		"igsync.yaml",
		filepath.Join(home, ".config", "igsync", "config.yaml"),
		filepath.Join(home, ".config", "igsync", "config.yml"),
		filepath.Join(home, ".igsync.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// KnownStrategies lists the strategy names accepted in fallback.order
var KnownStrategies = map[string]bool{
	"official":        true,
	"session":         true,
	"managed_scraper": true,
	"web_page":        true,
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if len(c.Fallback.Order) == 0 {
		errs = append(errs, errors.New("fallback order must name at least one strategy"))
	}
	seen := make(map[string]bool)
	for _, name := range c.Fallback.Order {
		name = strings.TrimSpace(name)
		switch {
		case name == "cache":
			errs = append(errs, errors.New("cache is always the terminal fallback and must not appear in fallback order"))
		case !KnownStrategies[name]:
			errs = append(errs, fmt.Errorf("unknown strategy %q in fallback order", name))
		case seen[name]:
			errs = append(errs, fmt.Errorf("strategy %q listed twice in fallback order", name))
		}
		seen[name] = true
	}
	if c.Fallback.RateLimitRetries < 0 {
		errs = append(errs, errors.New("rate limit retries cannot be negative"))
	}

	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("rate limit max requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}

	if c.Scraper.PollInterval <= 0 {
		errs = append(errs, errors.New("scraper poll interval must be positive"))
	}
	if c.Scraper.PollTimeout < c.Scraper.PollInterval {
		errs = append(errs, errors.New("scraper poll timeout must be at least the poll interval"))
	}
	if c.Scraper.Enabled && c.Scraper.APIToken == "" {
		errs = append(errs, errors.New("scraper API token is required when the scraper is enabled"))
	}

	if c.Cache.MaxAge <= 0 {
		errs = append(errs, errors.New("cache max age must be positive"))
	}

	if c.Sync.PostsPerProfile <= 0 {
		errs = append(errs, errors.New("posts per profile must be positive"))
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid sync timezone %q", c.Sync.Timezone))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database DSN is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, errors.New("log format must be console or json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Masked returns a copy with every secret replaced, for display
func (c *Config) Masked() *Config {
	cp := *c
	cp.Fallback.Order = append([]string(nil), c.Fallback.Order...)
	cp.Instagram.AccessToken = mask(c.Instagram.AccessToken)
	cp.Instagram.AppSecret = mask(c.Instagram.AppSecret)
	cp.Session.Password = mask(c.Session.Password)
	cp.Scraper.APIToken = mask(c.Scraper.APIToken)
	cp.Redis.Password = mask(c.Redis.Password)
	cp.Caption.APIKey = mask(c.Caption.APIKey)
	cp.OCR.APIKey = mask(c.OCR.APIKey)
	cp.Database.DSN = mask(c.Database.DSN)
	return &cp
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "********"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr, ok := flags["addr"].(string); ok && addr != "" {
		c.Server.Addr = addr
	}
	if limit, ok := flags["limit"].(int); ok && limit > 0 {
		c.Sync.PostsPerProfile = limit
	}
	if order, ok := flags["order"].([]string); ok && len(order) > 0 {
		c.Fallback.Order = order
	}
	if dbPath, ok := flags["db"].(string); ok && dbPath != "" {
		c.Database.Path = dbPath
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files never override variables already present in the environment
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igsync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
