package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config keeps runtime settings for the service.
type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	DefaultTimezone string
	CORSOrigins     []string
	// MaintenanceAt is the daily HH:MM (UTC) of the bookkeeping cleanup.
	MaintenanceAt string

	LLM      LLMConfig
	Push     PushConfig
	Log      LogConfig
	Telegram TelegramConfig
}

// LLMConfig configures the plan generation backend.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// PushConfig configures web push delivery.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	TTL             int
	RatePerSec      float64
	Burst           int
}

type LogConfig struct {
	Level  string
	Format string
}

type TelegramConfig struct {
	Token string
}

// Default returns a configuration with sane defaults.
func Default() Config {
	return Config{
		HTTPAddr:        ":8787",
		DefaultTimezone: "UTC",
		MaintenanceAt:   "03:30",
		CORSOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:5174",
			"http://127.0.0.1:5174",
		},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 20 * time.Second,
		},
		Push: PushConfig{
			VAPIDSubject: "mailto:you@example.com",
			TTL:          3600,
			RatePerSec:   20,
			Burst:        5,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// environment variables, which win over file values.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	if strings.TrimSpace(c.MaintenanceAt) == "" {
		return fmt.Errorf("MAINTENANCE_AT is required")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.Push.RatePerSec <= 0 {
		return fmt.Errorf("PUSH_RATE_PER_SEC must be positive")
	}
	if c.Push.Burst <= 0 {
		return fmt.Errorf("push burst must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.DefaultTimezone, "DEFAULT_TIMEZONE")
	setString(&cfg.MaintenanceAt, "MAINTENANCE_AT")
	if v := env("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.Model, "OPENAI_MODEL")
	if d := parseDuration(env("GENERATION_TIMEOUT")); d > 0 {
		cfg.LLM.Timeout = d
	}

	setString(&cfg.Push.VAPIDPublicKey, "VAPID_PUBLIC_KEY")
	setString(&cfg.Push.VAPIDPrivateKey, "VAPID_PRIVATE_KEY")
	setString(&cfg.Push.VAPIDSubject, "VAPID_SUBJECT")
	if v := env("PUSH_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Push.TTL = n
		}
	}
	if v := env("PUSH_RATE_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Push.RatePerSec = f
		}
	}

	setString(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDuration accepts Go durations ("20s") and bare seconds ("20").
func parseDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
