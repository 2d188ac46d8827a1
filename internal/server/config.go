package server

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-session frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string   `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"8192"`
	RateLimit      RateLimitConfig

	SendBuffer int           `envconfig:"SEND_BUFFER" default:"256"`
	WriteWait  time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	PongWait   time.Duration `envconfig:"PONG_WAIT" default:"60s"`

	JWTSecret  string        `envconfig:"JWT_SECRET"`
	TokenTTL   time.Duration `envconfig:"TOKEN_TTL" default:"168h"`
	BcryptCost int           `envconfig:"BCRYPT_COST" default:"12"`

	UploadDir     string `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxUploadSize int64  `envconfig:"MAX_UPLOAD_SIZE" default:"10485760"`

	HistoryDefaultLimit int `envconfig:"HISTORY_DEFAULT_LIMIT" default:"50"`
	MessageLogCapacity  int `envconfig:"MESSAGE_LOG_CAPACITY" default:"0"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"INFO"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 8192,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBuffer:          256,
		WriteWait:           10 * time.Second,
		PongWait:            60 * time.Second,
		TokenTTL:            7 * 24 * time.Hour,
		BcryptCost:          12,
		UploadDir:           "uploads",
		MaxUploadSize:       10 << 20,
		HistoryDefaultLimit: 50,
		ShutdownTimeout:     10 * time.Second,
		LogLevel:            "INFO",
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}

	// Pings go out at 9/10 of the pong wait, which must leave room for them.
	if cfg.PongWait <= time.Second {
		cfg.PongWait = defaults.PongWait
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = rand.Text()
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}

	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = defaults.BcryptCost
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = defaults.UploadDir
	}

	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaults.MaxUploadSize
	}

	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = defaults.HistoryDefaultLimit
	}

	if cfg.MessageLogCapacity < 0 {
		cfg.MessageLogCapacity = 0
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := sanitizeConfig(defaultConfig())
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables fall back to their defaults; out of range values are
// replaced by defaults too.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

// pingPeriod is how often the write pump pings an idle peer.
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
