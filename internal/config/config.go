package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Host     string `env:"HOST" envDefault:"0.0.0.0"`
	Port     string `env:"PORT" envDefault:"7860"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Gemini AI
	GeminiAPIKey          string        `env:"GEMINI_API_KEY,required"`
	GeminiModel           string        `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiBaseURL         string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiTransport       string        `env:"GEMINI_TRANSPORT" envDefault:"rest"` // rest|sdk
	GeminiTimeout         time.Duration `env:"GEMINI_TIMEOUT" envDefault:"120s"`
	GeminiTemperature     float32       `env:"GEMINI_TEMPERATURE" envDefault:"0.7"`
	GeminiMaxOutputTokens int32         `env:"GEMINI_MAX_OUTPUT_TOKENS" envDefault:"1024"`

	// Conversation
	HistoryWindow int `env:"HISTORY_WINDOW" envDefault:"3"`

	// Sessions (Redis is optional; memory is used when unset)
	RedisURL   string        `env:"REDIS_URL"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Uploads
	UploadDir      string        `env:"UPLOAD_DIR"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	UploadMaxAge   time.Duration `env:"UPLOAD_MAX_AGE" envDefault:"1h"`

	// Chat rate limit, requests per minute per IP
	ChatRateLimit int `env:"CHAT_RATE_LIMIT" envDefault:"30"`

	// Frontend
	FrontendURL string `env:"FRONTEND_URL" envDefault:"*"`
}

var ErrMissingAPIKey = errors.New("required environment variable GEMINI_API_KEY is not set")

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		if strings.Contains(err.Error(), "GEMINI_API_KEY") {
			return nil, ErrMissingAPIKey
		}
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	if cfg.GeminiAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "mycobot-uploads")
	}

	return cfg, nil
}

// MustLoad is Load for process startup: a missing credential stops the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func (c *Config) validate() error {
	switch strings.ToLower(c.GeminiTransport) {
	case "rest", "sdk":
		c.GeminiTransport = strings.ToLower(c.GeminiTransport)
	default:
		return fmt.Errorf("GEMINI_TRANSPORT must be rest or sdk, got %q", c.GeminiTransport)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("HISTORY_WINDOW must not be negative, got %d", c.HistoryWindow)
	}
	if c.GeminiTimeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT must be positive, got %s", c.GeminiTimeout)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.UploadMaxAge <= 0 {
		return fmt.Errorf("UPLOAD_MAX_AGE must be positive, got %s", c.UploadMaxAge)
	}
	return nil
}
