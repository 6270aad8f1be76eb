package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"3000"`
	AppURL    string `env:"APP_URL"`
	StaticDir string `env:"STATIC_DIR" default:"public"`

	PollQuestion string `env:"POLL_QUESTION" default:"What's your favorite programming language?"`
	PollOptions  string `env:"POLL_OPTIONS" default:"javascript,python,rust"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	MetricsEnabled bool `env:"METRICS_ENABLED" default:"true"`

	WSSendBuffer            int     `env:"WS_SEND_BUFFER" default:"16"`
	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	WSConnectRate           float64 `env:"WS_CONNECT_RATE" default:"10"`
	WSConnectBurst          int     `env:"WS_CONNECT_BURST" default:"20"`

	VoteRateLimit float64 `env:"VOTE_RATE_LIMIT" default:"20"`
	VoteRateBurst int     `env:"VOTE_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Options returns POLL_OPTIONS split on commas. Keys are trimmed; empty
// entries are kept so that poll construction can reject them.
func (c *Config) Options() []string {
	parts := strings.Split(c.PollOptions, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func validate(cfg *Config) error {
	if cfg.AppEnv != EnvDevelopment && cfg.AppEnv != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.AppEnv)
	}

	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	if strings.TrimSpace(cfg.PollQuestion) == "" {
		return errors.New("POLL_QUESTION must not be empty")
	}
	if strings.TrimSpace(cfg.PollOptions) == "" {
		return errors.New("POLL_OPTIONS must list at least one option")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"WS_SEND_BUFFER", float64(cfg.WSSendBuffer)},
		{"MAX_WEBSOCKET_CONNECTIONS", float64(cfg.MaxWebSocketConnections)},
		{"MAX_CONNECTIONS_PER_IP", float64(cfg.MaxConnectionsPerIP)},
		{"WS_CONNECT_RATE", cfg.WSConnectRate},
		{"WS_CONNECT_BURST", float64(cfg.WSConnectBurst)},
		{"VOTE_RATE_LIMIT", cfg.VoteRateLimit},
		{"VOTE_RATE_BURST", float64(cfg.VoteRateBurst)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if cfg.MaxConnectionsPerIP > cfg.MaxWebSocketConnections {
		return errors.New("MAX_CONNECTIONS_PER_IP must not exceed MAX_WEBSOCKET_CONNECTIONS")
	}

	return nil
}
