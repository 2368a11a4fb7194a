package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/storefront-scraper/internal/database"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Proxy    ProxyConfig
	Target   TargetConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type ScraperConfig struct {
	MaxRetries         int
	MaxConcurrent      int
	CoolDown           time.Duration
	NavigationTimeout  time.Duration
	SelectorTimeout    time.Duration
	NetworkIdleTimeout time.Duration
	CaptureWait        time.Duration
	CaptchaTimeout     time.Duration
	ScrollTimeout      time.Duration
	ProfileDir         string
	UserAgents         []string
	Seed               int64
}

type BrowserConfig struct {
	Headless   bool
	Locale     string
	TimezoneID string
}

type ProxyConfig struct {
	Enabled             bool
	AllowDirectFallback bool
	File                string
	URL                 string
	Username            string
	Password            string
	QuarantineTTL       time.Duration
	ProbeTimeout        time.Duration
	ProbeEnabled        bool
	ProbeURL            string
}

type TargetConfig struct {
	BaseURL              string
	CaptchaTitleMarker   string
	CaptchaImageSelector string
	CaptchaImageXPath    string
	CaptchaResolved      []string
}

type CacheConfig struct {
	TTL     time.Duration
	Backend string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "3000"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 6*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 5*time.Minute),
		},
		Scraper: ScraperConfig{
			MaxRetries:         getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			MaxConcurrent:      getIntOrDefault("SCRAPER_MAX_CONCURRENT", 5),
			CoolDown:           getDurationOrDefault("SCRAPER_COOL_DOWN", 2*time.Second),
			NavigationTimeout:  getDurationOrDefault("SCRAPER_NAVIGATION_TIMEOUT", 60*time.Second),
			SelectorTimeout:    getDurationOrDefault("SCRAPER_SELECTOR_TIMEOUT", 30*time.Second),
			NetworkIdleTimeout: getDurationOrDefault("SCRAPER_NETWORK_IDLE_TIMEOUT", 10*time.Second),
			CaptureWait:        getDurationOrDefault("SCRAPER_CAPTURE_WAIT", 10*time.Second),
			CaptchaTimeout:     getDurationOrDefault("SCRAPER_CAPTCHA_TIMEOUT", 60*time.Second),
			ScrollTimeout:      getDurationOrDefault("SCRAPER_SCROLL_TIMEOUT", 15*time.Second),
			ProfileDir:         getEnvOrDefault("SCRAPER_PROFILE_DIR", "user_data"),
			UserAgents:         getStringSliceOrDefault("SCRAPER_USER_AGENTS", nil),
			Seed:               int64(getIntOrDefault("SCRAPER_SEED", 0)),
		},
		Browser: BrowserConfig{
			Headless:   getBoolOrDefault("HEADLESS", true),
			Locale:     getEnvOrDefault("BROWSER_LOCALE", "ko-KR"),
			TimezoneID: getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Seoul"),
		},
		Proxy: ProxyConfig{
			Enabled:             getBoolOrDefault("WITH_PROXY", false),
			AllowDirectFallback: getBoolOrDefault("ALLOW_DIRECT_FALLBACK", false),
			File:                getEnvOrDefault("PROXY_FILE", "proxies.json"),
			URL:                 getEnvOrDefault("PROXY_URL", ""),
			Username:            getEnvOrDefault("PROXY_USERNAME", ""),
			Password:            getEnvOrDefault("PROXY_PASSWORD", ""),
			QuarantineTTL:       getDurationOrDefault("PROXY_QUARANTINE_TTL", 5*time.Minute),
			ProbeTimeout:        getDurationOrDefault("PROXY_PROBE_TIMEOUT", 10*time.Second),
			ProbeEnabled:        getBoolOrDefault("PROXY_PROBE_ENABLED", true),
			ProbeURL:            getEnvOrDefault("PROXY_PROBE_URL", ""),
		},
		Target: TargetConfig{
			BaseURL:              getEnvOrDefault("TARGET_BASE_URL", "https://smartstore.naver.com"),
			CaptchaTitleMarker:   getEnvOrDefault("CAPTCHA_TITLE_MARKER", ""),
			CaptchaImageSelector: getEnvOrDefault("CAPTCHA_IMAGE_SELECTOR", ""),
			CaptchaImageXPath:    getEnvOrDefault("CAPTCHA_IMAGE_XPATH", ""),
			CaptchaResolved:      getStringSliceOrDefault("CAPTCHA_RESOLVED_SELECTORS", nil),
		},
		Cache: CacheConfig{
			TTL:     getDurationOrDefault("CACHE_TTL", 10*time.Second),
			Backend: getEnvOrDefault("CACHE_BACKEND", "memory"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "storefront_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: getIntOrDefault("DB_MAX_CONNS", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.MaxConcurrent < 1 {
		return fmt.Errorf("SCRAPER_MAX_CONCURRENT must be at least 1")
	}

	timeouts := map[string]time.Duration{
		"SCRAPER_NAVIGATION_TIMEOUT":   c.Scraper.NavigationTimeout,
		"SCRAPER_SELECTOR_TIMEOUT":     c.Scraper.SelectorTimeout,
		"SCRAPER_NETWORK_IDLE_TIMEOUT": c.Scraper.NetworkIdleTimeout,
		"SCRAPER_CAPTURE_WAIT":         c.Scraper.CaptureWait,
		"SCRAPER_CAPTCHA_TIMEOUT":      c.Scraper.CaptchaTimeout,
		"SCRAPER_SCROLL_TIMEOUT":       c.Scraper.ScrollTimeout,
		"SERVER_REQUEST_TIMEOUT":       c.Server.RequestTimeout,
		"PROXY_QUARANTINE_TTL":         c.Proxy.QuarantineTTL,
		"CACHE_TTL":                    c.Cache.TTL,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Scraper.CoolDown < 0 {
		return fmt.Errorf("SCRAPER_COOL_DOWN cannot be negative")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_ENABLED")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.Logging.Format)
	}

	return nil
}

// Postgres converts the database section into a pool config.
func (c DatabaseConfig) Postgres() database.Config {
	return database.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.DBName,
		SSLMode:  c.SSLMode,
		MaxConns: int32(c.MaxConns),
	}
}

// Addr is the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
