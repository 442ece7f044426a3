package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Backend BackendConfig
	Session SessionConfig
	Server  ServerConfig
	Redis   RedisConfig
	Slack   SlackConfig
	Display DisplayConfig
	Log     LogConfig
}

// BackendConfig holds settings for the remote agent backend.
type BackendConfig struct {
	APIURL    string
	WSURL     string // empty: derived from APIURL
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

// WebSocketURL returns the event channel origin. When WSURL is unset it is
// the API URL with its scheme switched to ws or wss.
func (c BackendConfig) WebSocketURL() string {
	if c.WSURL != "" {
		return strings.TrimRight(c.WSURL, "/")
	}
	base := strings.TrimRight(c.APIURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// SessionConfig holds session controller settings.
type SessionConfig struct {
	HeartbeatTimeout time.Duration
}

// ServerConfig holds local control server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// RedisConfig holds Redis connection settings. An empty Addr selects the
// in-process fan-out.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// SlackConfig holds alerting settings.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// Enabled reports whether alerts should be posted.
func (c SlackConfig) Enabled() bool {
	return c.BotToken != "" && c.Channel != ""
}

// DisplayConfig controls how system turns are shortened.
type DisplayConfig struct {
	MaxChars      int
	FirstLineOnly bool
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  zerolog.Level
	Format string // "json" or "text"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	timeout, err := getEnvDuration("AGENTDECK_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	heartbeat, err := getEnvDuration("AGENTDECK_HEARTBEAT_TIMEOUT", 45*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("AGENTDECK_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("AGENTDECK_RATE_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("AGENTDECK_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	// Zero disables the write timeout; WebSocket streams are long-lived.
	writeTimeout, err := getEnvDuration("AGENTDECK_SERVER_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("AGENTDECK_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxChars, err := getEnvInt("AGENTDECK_DISPLAY_MAX_CHARS", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	firstLine, err := getEnvBool("AGENTDECK_DISPLAY_FIRST_LINE", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	level, err := zerolog.ParseLevel(getEnv("AGENTDECK_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("config.Load: parsing AGENTDECK_LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Backend: BackendConfig{
			APIURL:    getEnv("AGENTDECK_API_URL", "http://localhost:5500"),
			WSURL:     getEnv("AGENTDECK_WS_URL", ""),
			Timeout:   timeout,
			RateLimit: rateLimit,
			RateBurst: rateBurst,
		},
		Session: SessionConfig{
			HeartbeatTimeout: heartbeat,
		},
		Server: ServerConfig{
			Addr:         getEnv("AGENTDECK_SERVER_ADDR", "127.0.0.1:8090"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("AGENTDECK_CORS_ORIGINS", []string{"http://localhost:5173"}),
		},
		Redis: RedisConfig{
			Addr:     getEnv("AGENTDECK_REDIS_ADDR", ""),
			Password: getEnv("AGENTDECK_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Slack: SlackConfig{
			BotToken: getEnv("AGENTDECK_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("AGENTDECK_SLACK_CHANNEL", ""),
		},
		Display: DisplayConfig{
			MaxChars:      maxChars,
			FirstLineOnly: firstLine,
		},
		Log: LogConfig{
			Level:  level,
			Format: strings.ToLower(getEnv("AGENTDECK_LOG_FORMAT", "text")),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// OverrideBackend replaces the backend URLs with the non-empty arguments
// and validates the result.
func (c *Config) OverrideBackend(apiURL, wsURL string) error {
	if apiURL != "" {
		c.Backend.APIURL = apiURL
	}
	if wsURL != "" {
		c.Backend.WSURL = wsURL
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("config.OverrideBackend: %w", err)
	}
	return nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if err := validateURL("AGENTDECK_API_URL", c.Backend.APIURL, "http", "https"); err != nil {
		return err
	}
	if c.Backend.WSURL != "" {
		if err := validateURL("AGENTDECK_WS_URL", c.Backend.WSURL, "ws", "wss"); err != nil {
			return err
		}
	}

	// Bounds checks.
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("AGENTDECK_HTTP_TIMEOUT must be positive, got %s", c.Backend.Timeout)
	}
	if c.Session.HeartbeatTimeout <= 0 {
		return fmt.Errorf("AGENTDECK_HEARTBEAT_TIMEOUT must be positive, got %s", c.Session.HeartbeatTimeout)
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("AGENTDECK_RATE_LIMIT must be >= 0, got %g", c.Backend.RateLimit)
	}
	if c.Backend.RateBurst < 1 {
		return fmt.Errorf("AGENTDECK_RATE_BURST must be >= 1, got %d", c.Backend.RateBurst)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("AGENTDECK_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("AGENTDECK_SERVER_WRITE_TIMEOUT must be >= 0, got %s", c.Server.WriteTimeout)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("AGENTDECK_REDIS_DB must be >= 0, got %d", c.Redis.DB)
	}
	if c.Display.MaxChars < 0 {
		return fmt.Errorf("AGENTDECK_DISPLAY_MAX_CHARS must be >= 0, got %d", c.Display.MaxChars)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("AGENTDECK_LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	if c.Slack.BotToken != "" && c.Slack.Channel == "" {
		log.Warn().Msg("AGENTDECK_SLACK_BOT_TOKEN is set without AGENTDECK_SLACK_CHANNEL; alerts are disabled")
	}

	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return errors.New(key + " must be an absolute " + strings.Join(schemes, "/") + " URL, got " + strconv.Quote(raw))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
