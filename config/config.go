package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Signaling relay modes.
const (
	ModeRaw   = "raw"
	ModeEvent = "event"
)

// Duplicate registration policies.
const (
	DuplicateReplace = "replace"
	DuplicateReject  = "reject"
)

// DotenvFile is loaded on startup when present.
const DotenvFile = ".env"

type Config struct {
	Port            string
	Environment     string
	AllowedOrigins  []string
	JWTSecret       string
	TokenTTL        time.Duration
	ShutdownTimeout time.Duration
	AdminUsernames  []string // registered with the admin role whatever they ask for
	Redis           RedisConfig
	Signaling       SignalingConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SignalingConfig tunes the WebRTC signaling relay.
type SignalingConfig struct {
	Mode                string
	DuplicatePolicy     string
	RequireAuth         bool
	NotifyUndeliverable bool
	SendBuffer          int
	MaxMessageBytes     int64
	PingInterval        time.Duration
	PongWait            time.Duration
	WriteWait           time.Duration
}

// Load reads the configuration from the environment. Values in a local .env
// file are applied first but never override variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(DotenvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotenvFile, err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	p := &parser{}
	def := DefaultSignaling()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTL:        p.duration("TOKEN_TTL", 24*time.Hour),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AdminUsernames:  splitList(getEnv("ADMIN_USERNAMES", "")),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       p.int("REDIS_DB", 0),
		},
		Signaling: SignalingConfig{
			Mode:                strings.ToLower(getEnv("SIGNALING_MODE", def.Mode)),
			DuplicatePolicy:     strings.ToLower(getEnv("SIGNALING_DUPLICATE_POLICY", def.DuplicatePolicy)),
			RequireAuth:         p.bool("SIGNALING_REQUIRE_AUTH", def.RequireAuth),
			NotifyUndeliverable: p.bool("SIGNALING_NOTIFY_UNDELIVERABLE", def.NotifyUndeliverable),
			SendBuffer:          p.int("SIGNALING_SEND_BUFFER", def.SendBuffer),
			MaxMessageBytes:     int64(p.int("SIGNALING_MAX_MESSAGE_BYTES", int(def.MaxMessageBytes))),
			PingInterval:        p.duration("SIGNALING_PING_INTERVAL", def.PingInterval),
			PongWait:            p.duration("SIGNALING_PONG_WAIT", def.PongWait),
			WriteWait:           p.duration("SIGNALING_WRITE_WAIT", def.WriteWait),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultSignaling returns the relay defaults: raw framing, last-writer-wins
// registration and the relay keepalive timings.
func DefaultSignaling() SignalingConfig {
	return SignalingConfig{
		Mode:            ModeRaw,
		DuplicatePolicy: DuplicateReplace,
		SendBuffer:      256,
		MaxMessageBytes: 64 * 1024,
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Signaling.Mode {
	case ModeRaw, ModeEvent:
	default:
		return fmt.Errorf("invalid SIGNALING_MODE %q (want %q or %q)", c.Signaling.Mode, ModeRaw, ModeEvent)
	}
	switch c.Signaling.DuplicatePolicy {
	case DuplicateReplace, DuplicateReject:
	default:
		return fmt.Errorf("invalid SIGNALING_DUPLICATE_POLICY %q (want %q or %q)",
			c.Signaling.DuplicatePolicy, DuplicateReplace, DuplicateReject)
	}
	if c.Signaling.SendBuffer <= 0 {
		return fmt.Errorf("SIGNALING_SEND_BUFFER must be positive")
	}
	if c.Signaling.MaxMessageBytes <= 0 {
		return fmt.Errorf("SIGNALING_MAX_MESSAGE_BYTES must be positive")
	}
	if c.Signaling.PingInterval >= c.Signaling.PongWait {
		return fmt.Errorf("SIGNALING_PING_INTERVAL (%s) must be shorter than SIGNALING_PONG_WAIT (%s)",
			c.Signaling.PingInterval, c.Signaling.PongWait)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser records the first conversion error so Load can report it.
type parser struct {
	err error
}

// splitList parses a comma-separated list, skipping blank entries.
func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}
