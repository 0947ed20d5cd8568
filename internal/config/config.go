package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/obslog"
)

// FileEnv names the optional YAML overlay.
const FileEnv = "ARENA_CONFIG_FILE"

// Config is the process configuration. Precedence, lowest first: built-in
// defaults, the YAML overlay, environment variables (a .env file is loaded
// into the environment without overriding variables already set).
type Config struct {
	RedisURL    string `env:"REDIS_URL" yaml:"redis_url"`
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`

	APIAddr   string   `env:"API_ADDR" yaml:"api_addr"`
	WSAddr    string   `env:"WS_ADDR" yaml:"ws_addr"`
	WSOrigins []string `env:"WS_ORIGINS" envSeparator:"," yaml:"ws_origins"`

	JWTSecret       string `env:"JWT_SECRET" yaml:"-"`
	TrustUserHeader bool   `env:"TRUST_USER_HEADER" yaml:"trust_user_header"`

	MessagesDir string `env:"MESSAGES_DIR" yaml:"messages_dir"`

	// ShutdownTimeout bounds graceful shutdown of servers and clocks.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	Log   obslog.Options `envPrefix:"LOG_" yaml:"log"`
	Arena arena.Config   `envPrefix:"ARENA_" yaml:"arena"`
}

func Default() *Config {
	return &Config{
		APIAddr:         ":8080",
		WSAddr:          ":8081",
		ShutdownTimeout: 10 * time.Second,
		Log:             obslog.Options{Level: "info", Format: "legacy", Console: true},
		Arena:           arena.DefaultConfig(),
	}
}

// Load reads .env, the overlay named by ARENA_CONFIG_FILE and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	origins := c.WSOrigins[:0]
	for _, o := range c.WSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.WSOrigins = origins
}

// ValidateServe checks what the serve command needs.
func (c *Config) ValidateServe() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.JWTSecret == "" && !c.TrustUserHeader {
		return errors.New("JWT_SECRET is required unless TRUST_USER_HEADER is set")
	}
	if c.APIAddr == "" && c.WSAddr == "" {
		return errors.New("at least one of API_ADDR or WS_ADDR is required")
	}
	return nil
}

// ValidateStore checks what any command touching sessions needs.
func (c *Config) ValidateStore() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	return nil
}
