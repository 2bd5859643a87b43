package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"secretfriend/internal/emailjs"
	"secretfriend/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	EmailJS  EmailJSConfig  `yaml:"emailjs" envPrefix:"EMAILJS_"`
	Draw     DrawConfig     `yaml:"draw" envPrefix:"DRAW_"`
	Sessions SessionsConfig `yaml:"sessions" envPrefix:"SESSIONS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// EmailJSConfig holds the delivery endpoint and optional server-wide credentials.
// Credentials set here are used by every tenant that has not configured its own.
type EmailJSConfig struct {
	Endpoint   string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ServiceID  string        `yaml:"service_id" env:"SERVICE_ID"`
	TemplateID string        `yaml:"template_id" env:"TEMPLATE_ID"`
	PublicKey  string        `yaml:"public_key" env:"PUBLIC_KEY"`
}

// Credentials returns the server-wide delivery credentials.
func (c EmailJSConfig) Credentials() models.DeliveryConfig {
	return models.DeliveryConfig{ServiceID: c.ServiceID, TemplateID: c.TemplateID, PublicKey: c.PublicKey}
}

// DrawConfig tunes the draw pipeline.
type DrawConfig struct {
	MinParticipants  int           `yaml:"min_participants" env:"MIN_PARTICIPANTS"`
	MaxAttempts      int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	PacingDelay      time.Duration `yaml:"pacing_delay" env:"PACING_DELAY"`
	KeepParticipants bool          `yaml:"keep_participants" env:"KEEP_PARTICIPANTS"`
}

// SessionsConfig controls the in-memory session janitor.
type SessionsConfig struct {
	IdleTTL         time.Duration `yaml:"idle_ttl" env:"IDLE_TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// LogConfig controls google/logger output.
type LogConfig struct {
	Verbose bool   `yaml:"verbose" env:"VERBOSE"`
	File    string `yaml:"file" env:"FILE"`
}

// Load starts from the defaults, then applies the optional YAML file at path
// and environment overrides (a .env file in the working directory is honored).
// Keys absent from both keep their default, so explicit zero values survive.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "SECRETFRIEND_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		EmailJS: EmailJSConfig{Endpoint: emailjs.DefaultEndpoint, Timeout: 15 * time.Second},
		Draw: DrawConfig{
			MinParticipants: 3,
			MaxAttempts:     100,
			PacingDelay:     600 * time.Millisecond,
		},
		Sessions: SessionsConfig{IdleTTL: time.Hour, CleanupInterval: 10 * time.Minute},
	}
}

func (c *Config) validate() error {
	if c.Draw.MinParticipants < 2 {
		return fmt.Errorf("draw.min_participants must be at least 2, got %d", c.Draw.MinParticipants)
	}
	if c.Draw.MaxAttempts < 0 {
		return fmt.Errorf("draw.max_attempts must not be negative, got %d", c.Draw.MaxAttempts)
	}
	if c.Draw.PacingDelay < 0 {
		return fmt.Errorf("draw.pacing_delay must not be negative, got %s", c.Draw.PacingDelay)
	}
	if c.EmailJS.Timeout < 0 {
		return fmt.Errorf("emailjs.timeout must not be negative, got %s", c.EmailJS.Timeout)
	}
	if c.Sessions.CleanupInterval <= 0 {
		return fmt.Errorf("sessions.cleanup_interval must be positive, got %s", c.Sessions.CleanupInterval)
	}
	return nil
}
