package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port         string
	Env          string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string
	StoreBackend string // "redis" or "memory"

	// Identity
	JWTSecret          string
	TokenTTL           time.Duration
	OTPTTL             time.Duration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	// Chat
	DefaultAvatarURL string
	Location         *time.Location

	// Static assets
	AssetDir         string // serve from a local directory
	AssetOrigin      string // or proxy an origin
	AssetCacheDir    string
	AssetCacheName   string
	AssetPrecache    []string
	AssetOfflinePath string

	// AllowedOrigins restricts CORS and websocket origins; empty allows any.
	AllowedOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		StoreBackend:       getEnv("STORE_BACKEND", "redis"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		TokenTTL:           getDuration("TOKEN_TTL", 7*24*time.Hour),
		OTPTTL:             getDuration("OTP_TTL", 5*time.Minute),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),
		DefaultAvatarURL:   getEnv("DEFAULT_AVATAR_URL", "https://i.imgur.com/6VBx3io.png"),
		Location:           time.Local,
		AssetDir:           os.Getenv("ASSET_DIR"),
		AssetOrigin:        os.Getenv("ASSET_ORIGIN"),
		AssetCacheDir:      getEnv("ASSET_CACHE_DIR", "./data/assets"),
		AssetCacheName:     getEnv("ASSET_CACHE_NAME", "live-chat-v1"),
		AssetPrecache:      splitList(getEnv("ASSET_PRECACHE", "/live-chat/,/live-chat/index.html")),
		AssetOfflinePath:   getEnv("ASSET_OFFLINE_PATH", "/live-chat/index.html"),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			panic("invalid TIMEZONE: " + err.Error())
		}
		cfg.Location = loc
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	if cfg.StoreBackend != "redis" && cfg.StoreBackend != "memory" {
		panic("STORE_BACKEND must be redis or memory")
	}

	// In production, require redis and a signing secret
	if cfg.Env == "production" {
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-only-secret"
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(key + " is not a duration: " + err.Error())
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
