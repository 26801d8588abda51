package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Session store backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	Debug bool   `env:"DEBUG" envDefault:"false"`
	Env   string `env:"APP_ENV" envDefault:"development"`

	Server struct {
		Port        int      `env:"PORT" envDefault:"3001"`
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Postgres struct {
		DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
		MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
		ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
		AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Telegram struct {
		BotToken    string        `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
		APIBaseURL  string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
		PollTimeout time.Duration `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"30s"`
		// InitDataTTL bounds the age of Mini App init data; 0 disables the check.
		InitDataTTL time.Duration `env:"INIT_DATA_TTL" envDefault:"24h"`
	}

	Auth struct {
		JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
		TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	}

	EventApp struct {
		APIURL      string `env:"EVENTAPP_API_URL" envDefault:""`
		FrontendURL string `env:"FRONTEND_URL" envDefault:""`
		MiniAppURL  string `env:"MINI_APP_URL" envDefault:""`
	}

	Session struct {
		Backend     string        `env:"SESSION_BACKEND" envDefault:"memory"`
		IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"15m"`
		MaxEntries  int           `env:"SESSION_MAX_ENTRIES" envDefault:"10000"`
	}

	Linking struct {
		AttemptsPerMinute float64 `env:"LINK_ATTEMPTS_PER_MINUTE" envDefault:"5"`
		AttemptBurst      int     `env:"LINK_ATTEMPT_BURST" envDefault:"5"`
	}

	Dispatch struct {
		Workers int `env:"DISPATCH_WORKERS" envDefault:"8"`
	}
}

// Load reads .env (when present) and the process environment into Config.
func Load() (*Config, error) {
	// .env is optional; in production variables come from the environment.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND %q: want %q or %q", c.Session.Backend, SessionBackendMemory, SessionBackendRedis)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.Session.MaxEntries <= 0 {
		return fmt.Errorf("SESSION_MAX_ENTRIES must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 1
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
