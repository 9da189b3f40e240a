package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings configures the HTTP service. Values come from the process
// environment, optionally seeded from a .env file in the working directory.
type Settings struct {
	Port           string
	LogLevel       string
	RedisURL       string // empty → in-process cache
	CacheTTL       time.Duration
	MaxEvents      int
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	RateLimitRPS   float64 // <= 0 disables rate limiting
	RateLimitBurst int
}

// LoadSettings reads Settings from the environment. A missing .env file is
// not an error.
func LoadSettings() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	s := &Settings{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RedisURL:       getEnv("REDIS_URL", ""),
		CacheTTL:       5 * time.Minute,
		MaxEvents:      100000,
		MaxBodyBytes:   32 << 20,
		RequestTimeout: 30 * time.Second,
		RateLimitRPS:   10,
		RateLimitBurst: 30,
	}

	var err error
	if s.CacheTTL, err = getEnvDuration("CACHE_TTL", s.CacheTTL); err != nil {
		return nil, err
	}
	if s.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", s.RequestTimeout); err != nil {
		return nil, err
	}
	if s.MaxEvents, err = getEnvInt("MAX_EVENTS", s.MaxEvents); err != nil {
		return nil, err
	}
	if s.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", s.RateLimitBurst); err != nil {
		return nil, err
	}
	if v := getEnv("RATE_LIMIT_RPS", ""); v != "" {
		if s.RateLimitRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
	}
	maxBody, err := getEnvInt("MAX_BODY_BYTES", int(s.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	s.MaxBodyBytes = int64(maxBody)

	if s.MaxEvents <= 0 {
		return nil, fmt.Errorf("MAX_EVENTS must be positive, got %d", s.MaxEvents)
	}
	return s, nil
}

// NewLogger builds the JSON slog logger used by both binaries. Unknown
// levels fall back to info; see KnownLogLevel.
func NewLogger(w io.Writer, level string) *slog.Logger {
	lvl, _ := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// KnownLogLevel reports whether level is one of debug, info, warn or error.
func KnownLogLevel(level string) bool {
	_, ok := parseLevel(level)
	return ok
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
