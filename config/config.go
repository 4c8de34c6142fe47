package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tunedeck/tunedeck/errors"
)

// Database connection pool defaults
const (
	DefaultDBMaxOpenConns    = 25
	DefaultDBMaxIdleConns    = 5
	DefaultDBConnMaxLifetime = 30 * time.Minute
	DefaultDBConnMaxIdleTime = 5 * time.Minute
)

// Upstream and scheduling defaults
const (
	DefaultSpotifyAPIURL      = "https://api.spotify.com/v1"
	DefaultSpotifyAccountsURL = "https://accounts.spotify.com"
	DefaultRefreshInterval    = 72 * time.Hour
	DefaultUpstreamRPS        = 10
	DefaultUpstreamBurst      = 20
)

type Config struct {
	Port         string
	DatabasePath string
	LogLevel     string

	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyAPIURL       string
	SpotifyAccountsURL  string
	UpstreamRPS         float64
	UpstreamBurst       int

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	DBHealthCheck     bool

	RefreshEnabled  bool
	RefreshInterval time.Duration

	SecurityHeadersEnabled  bool
	XContentTypeOptions     string
	XFrameOptions           string
	XXSSProtection          string
	ContentSecurityPolicy   string
	ReferrerPolicy          string
	StrictTransportSecurity string
	DevMode                 bool
}

func New() *Config {
	// Best-effort: a missing .env file is fine in production
	_ = godotenv.Load()

	var (
		port         = flag.String("port", getEnvOrDefault("PORT", "8080"), "HTTP server port")
		dbPath       = flag.String("db-path", getEnvOrDefault("DB_PATH", "tunedeck.db"), "Database file path")
		logLevel     = flag.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
		clientID     = flag.String("spotify-client-id", getEnvOrDefault("SPOTIFY_CLIENT_ID", ""), "Spotify application client id")
		clientSecret = flag.String("spotify-client-secret", getEnvOrDefault("SPOTIFY_CLIENT_SECRET", ""), "Spotify application client secret")
		apiURL       = flag.String("spotify-api-url", getEnvOrDefault("SPOTIFY_API_URL", DefaultSpotifyAPIURL), "Spotify Web API base URL")
		accountsURL  = flag.String("spotify-accounts-url", getEnvOrDefault("SPOTIFY_ACCOUNTS_URL", DefaultSpotifyAccountsURL), "Spotify accounts base URL")

		refreshEnabled  = flag.Bool("refresh-enabled", getEnvBoolOrDefault("REFRESH_ENABLED", true), "Enable the scheduled playlist refresh job")
		refreshInterval = flag.Duration("refresh-interval", getEnvDurationOrDefault("REFRESH_INTERVAL", DefaultRefreshInterval), "Scheduled playlist refresh interval")

		rateLimitEnabled = flag.Bool("rate-limit", getEnvBoolOrDefault("RATE_LIMIT_ENABLED", true), "Enable request rate limiting")
		rateLimitRPS     = flag.Float64("rate-limit-rps", getEnvFloatOrDefault("RATE_LIMIT_RPS", 100), "Requests per second limit")
		rateLimitBurst   = flag.Int("rate-limit-burst", getEnvIntOrDefault("RATE_LIMIT_BURST", 200), "Rate limit burst size")

		devMode         = flag.Bool("dev-mode", getEnvBoolOrDefault("DEV_MODE", false), "Enable development mode (relaxed security headers)")
		securityHeaders = flag.Bool("security-headers", getEnvBoolOrDefault("SECURITY_HEADERS_ENABLED", true), "Enable security headers middleware")
	)
	flag.Parse()

	return &Config{
		Port:         *port,
		DatabasePath: *dbPath,
		LogLevel:     *logLevel,

		SpotifyClientID:     *clientID,
		SpotifyClientSecret: *clientSecret,
		SpotifyAPIURL:       *apiURL,
		SpotifyAccountsURL:  *accountsURL,
		UpstreamRPS:         getEnvFloatOrDefault("SPOTIFY_RPS", DefaultUpstreamRPS),
		UpstreamBurst:       getEnvIntOrDefault("SPOTIFY_BURST", DefaultUpstreamBurst),

		RateLimitEnabled: *rateLimitEnabled,
		RateLimitRPS:     *rateLimitRPS,
		RateLimitBurst:   *rateLimitBurst,

		DBMaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns),
		DBMaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", DefaultDBMaxIdleConns),
		DBConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime: getEnvDurationOrDefault("DB_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBHealthCheck:     getEnvBoolOrDefault("DB_HEALTH_CHECK", true),

		RefreshEnabled:  *refreshEnabled,
		RefreshInterval: *refreshInterval,

		SecurityHeadersEnabled:  *securityHeaders,
		XContentTypeOptions:     getEnvOrDefault("X_CONTENT_TYPE_OPTIONS", "nosniff"),
		XFrameOptions:           getEnvOrDefault("X_FRAME_OPTIONS", "DENY"),
		XXSSProtection:          getEnvOrDefault("X_XSS_PROTECTION", "1; mode=block"),
		ContentSecurityPolicy:   getEnvOrDefault("CONTENT_SECURITY_POLICY", "default-src 'self'"),
		ReferrerPolicy:          getEnvOrDefault("REFERRER_POLICY", "strict-origin-when-cross-origin"),
		StrictTransportSecurity: getEnvOrDefault("STRICT_TRANSPORT_SECURITY", "max-age=31536000; includeSubDomains"),
		DevMode:                 *devMode,
	}
}

// Validate checks configuration values that would otherwise fail at
// first use.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.ErrInvalidPort
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		return errors.ErrInvalidPort.WithContext("port", c.Port)
	}
	if c.DatabasePath == "" {
		return errors.ErrInvalidDatabasePath
	}
	if c.SpotifyClientID == "" {
		return errors.ErrMissingClientID
	}
	return nil
}

func (c *Config) IsDevMode() bool {
	return c.DevMode
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
