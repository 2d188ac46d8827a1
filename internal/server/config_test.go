package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	req := require.New(t)
	cfg := NewConfig()

	req.Equal(":8080", cfg.Port)
	req.Equal([]string{"http://localhost:8080"}, cfg.AllowedOrigins)
	req.EqualValues(8192, cfg.MaxMessageSize)
	req.Equal(5, cfg.RateLimit.Burst)
	req.Equal(time.Second, cfg.RateLimit.RefillInterval)
	req.Equal(256, cfg.SendBuffer)
	req.Equal(54*time.Second, cfg.pingPeriod())
	req.NotEmpty(cfg.JWTSecret)
	req.Equal(50, cfg.HistoryDefaultLimit)
	req.Zero(cfg.MessageLogCapacity)
}

func TestNewConfigFromEnv(t *testing.T) {
	req := require.New(t)
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("MESSAGE_LOG_CAPACITY", "1000")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := NewConfigFromEnv()
	req.NoError(err)
	req.Equal(":9090", cfg.Port)
	req.Len(cfg.AllowedOrigins, 2)
	req.Equal(10, cfg.RateLimit.Burst)
	req.Equal(2*time.Second, cfg.RateLimit.RefillInterval)
	req.Equal("from-env", cfg.JWTSecret)
	req.Equal(1000, cfg.MessageLogCapacity)
	req.Equal("DEBUG", cfg.LogLevel)
	req.Equal(168*time.Hour, cfg.TokenTTL)
}

func TestNewConfigFromEnvInvalid(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "lots")
	_, err := NewConfigFromEnv()
	require.Error(t, err)
}

func TestSanitizeConfig(t *testing.T) {
	req := require.New(t)
	cfg := sanitizeConfig(Config{
		MaxMessageSize:     -1,
		RateLimit:          RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
		PongWait:           time.Millisecond,
		MessageLogCapacity: -5,
	})

	req.Equal(":8080", cfg.Port)
	req.EqualValues(8192, cfg.MaxMessageSize)
	req.Equal(5, cfg.RateLimit.Burst)
	req.Equal(time.Second, cfg.RateLimit.RefillInterval)
	req.Equal(60*time.Second, cfg.PongWait)
	req.Zero(cfg.MessageLogCapacity)
	req.NotEmpty(cfg.JWTSecret)
	req.Equal("uploads", cfg.UploadDir)
}

func TestOriginPolicy(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"exact", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"HTTP://LocalHost:8080"}, "http://localhost:8080", true},
		{"path ignored", []string{"https://chat.example/app"}, "https://chat.example", true},
		{"other port", []string{"http://localhost:8080"}, "http://localhost:3000", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid entry skipped", []string{"not an origin"}, "not an origin", false},
		{"empty origin", []string{"*"}, "", false},
		{"no origins", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.origins, log)
			require.Equal(t, tt.want, policy.allows(tt.origin))
		})
	}
}
