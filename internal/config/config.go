package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "5s" style strings or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(node.Value)
	if s == "" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

type SagaConfig struct {
	// StepTimeout bounds each participant call.
	StepTimeout Duration `yaml:"step_timeout"`

	// Retries is the number of additional attempts per participant call.
	// Total attempts = 1 + Retries.
	Retries       int      `yaml:"retries"`
	RetryInterval Duration `yaml:"retry_interval"`
}

// ParticipantsConfig holds the base URLs of the order saga participants.
type ParticipantsConfig struct {
	OrderURL     string `yaml:"order_url"`
	PaymentURL   string `yaml:"payment_url"`
	InventoryURL string `yaml:"inventory_url"`

	// Addr is the listen address of the bundled participant services.
	Addr string `yaml:"addr"`
	// PaymentLimit is the largest amount the payment service accepts.
	PaymentLimit float64 `yaml:"payment_limit"`
}

type RedisConfig struct {
	// Addr enables the Redis event sink when set.
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type Config struct {
	LogMode      string             `yaml:"log_mode"`
	HTTP         HTTPConfig         `yaml:"http"`
	Saga         SagaConfig         `yaml:"saga"`
	Participants ParticipantsConfig `yaml:"participants"`
	Redis        RedisConfig        `yaml:"redis"`
}

func Default() *Config {
	return &Config{
		LogMode: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{5 * time.Second},
			ShutdownTimeout:   Duration{15 * time.Second},
		},
		Saga: SagaConfig{
			StepTimeout:   Duration{5 * time.Second},
			RetryInterval: Duration{100 * time.Millisecond},
		},
		Participants: ParticipantsConfig{
			OrderURL:     "http://localhost:8081",
			PaymentURL:   "http://localhost:8081",
			InventoryURL: "http://localhost:8081",
			Addr:         ":8081",
			PaymentLimit: 1000,
		},
		Redis: RedisConfig{
			Stream: "saga:events",
		},
	}
}

// Load reads path (optional) on top of the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := env("SAGA_LOG_MODE"); v != "" {
		cfg.LogMode = v
	}
	if v := env("SAGA_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := env("SAGA_STEP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SAGA_STEP_TIMEOUT: %w", err)
		}
		cfg.Saga.StepTimeout = Duration{d}
	}
	if v := env("SAGA_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SAGA_RETRIES: %w", err)
		}
		cfg.Saga.Retries = n
	}
	if v := env("SAGA_ORDER_URL"); v != "" {
		cfg.Participants.OrderURL = v
	}
	if v := env("SAGA_PAYMENT_URL"); v != "" {
		cfg.Participants.PaymentURL = v
	}
	if v := env("SAGA_INVENTORY_URL"); v != "" {
		cfg.Participants.InventoryURL = v
	}
	if v := env("PARTICIPANTS_HTTP_ADDR"); v != "" {
		cfg.Participants.Addr = v
	}
	if v := env("SAGA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := env("SAGA_EVENTS_STREAM"); v != "" {
		cfg.Redis.Stream = v
	}
	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogMode) {
	case "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("log_mode %q must be development or production", c.LogMode)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if c.Saga.StepTimeout.Duration <= 0 {
		return errors.New("saga.step_timeout must be positive")
	}
	if c.Saga.Retries < 0 {
		return errors.New("saga.retries must not be negative")
	}
	for name, raw := range map[string]string{
		"participants.order_url":     c.Participants.OrderURL,
		"participants.payment_url":   c.Participants.PaymentURL,
		"participants.inventory_url": c.Participants.InventoryURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s %q is not an absolute URL", name, raw)
		}
	}
	if c.Participants.PaymentLimit <= 0 {
		return errors.New("participants.payment_limit must be positive")
	}
	return nil
}
