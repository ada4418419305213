package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// API
	APIBaseURL string
	WSURL      string
	Origin     string
	UserAgent  string

	// Stream handshake
	ProtocolVersion int
	Locale          string
	PlatformID      string
	PlatformVersion string
	ClientID        string
	ClientVersion   string

	// Credentials (interactive prompt fills the blanks)
	PhoneNumber string
	PIN         string

	// Persistence
	TokenPath   string
	ArchivePath string

	// Limits & timeouts
	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
	PageTimeout      time.Duration
	RefreshInterval  time.Duration
	MaxPages         int
	Limit            int

	// Proxy ("" = direct)
	ProxyURL string

	// Logging
	LogLevel string
}

func Load() *Config {
	return &Config{
		APIBaseURL: envOr("TR_API_URL", "https://api.traderepublic.com/api/v1"),
		WSURL:      envOr("TR_WS_URL", "wss://api.traderepublic.com/"),
		Origin:     envOr("TR_ORIGIN", "https://app.traderepublic.com"),
		UserAgent: envOr("TR_USER_AGENT",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),

		ProtocolVersion: envInt("TR_PROTOCOL_VERSION", 31),
		Locale:          envOr("TR_LOCALE", "en"),
		PlatformID:      envOr("TR_PLATFORM_ID", "webtrading"),
		PlatformVersion: envOr("TR_PLATFORM_VERSION", "chrome - 120.0.0"),
		ClientID:        envOr("TR_CLIENT_ID", "app.traderepublic.com"),
		ClientVersion:   envOr("TR_CLIENT_VERSION", "3.174.0"),

		PhoneNumber: os.Getenv("TR_PHONE"),
		PIN:         os.Getenv("TR_PIN"),

		TokenPath:   envOr("TR_TOKEN_PATH", ".tokens.json"),
		ArchivePath: os.Getenv("TR_ARCHIVE_PATH"),

		HTTPTimeout:      envDuration("TR_HTTP_TIMEOUT", 10*time.Second),
		HandshakeTimeout: envDuration("TR_HANDSHAKE_TIMEOUT", 10*time.Second),
		PageTimeout:      envDuration("TR_PAGE_TIMEOUT", 15*time.Second),
		RefreshInterval:  envDuration("TR_REFRESH_INTERVAL", 4*time.Minute),
		MaxPages:         envInt("TR_MAX_PAGES", 500),
		Limit:            envInt("TR_LIMIT", 0),

		ProxyURL: os.Getenv("TR_PROXY_URL"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errMissing("TR_API_URL")
	}
	if c.WSURL == "" {
		return errMissing("TR_WS_URL")
	}
	if c.TokenPath == "" {
		return errMissing("TR_TOKEN_PATH")
	}
	if c.ProtocolVersion <= 0 {
		return errMissing("TR_PROTOCOL_VERSION")
	}
	return nil
}

type configError struct{ field string }

func (e *configError) Error() string { return "missing required env: " + e.field }
func errMissing(f string) error      { return &configError{field: f} }

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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
