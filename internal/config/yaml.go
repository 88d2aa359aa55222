package config

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"
)

// fileConfig mirrors Config for YAML files. Pointers distinguish unset keys.
type fileConfig struct {
	HTTPAddr        *string  `yaml:"http_addr"`
	DatabaseURL     *string  `yaml:"database_url"`
	DefaultTimezone *string  `yaml:"default_timezone"`
	CORSOrigins     []string `yaml:"cors_origins"`
	MaintenanceAt   *string  `yaml:"maintenance_at"`

	LLM struct {
		APIKey  *string `yaml:"api_key"`
		BaseURL *string `yaml:"base_url"`
		Model   *string `yaml:"model"`
		Timeout *string `yaml:"timeout"`
	} `yaml:"llm"`

	Push struct {
		VAPIDPublicKey  *string  `yaml:"vapid_public_key"`
		VAPIDPrivateKey *string  `yaml:"vapid_private_key"`
		VAPIDSubject    *string  `yaml:"vapid_subject"`
		TTL             *int     `yaml:"ttl_seconds"`
		RatePerSec      *float64 `yaml:"rate_per_sec"`
		Burst           *int     `yaml:"burst"`
	} `yaml:"push"`

	Log struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"log"`

	Telegram struct {
		Token *string `yaml:"token"`
	} `yaml:"telegram"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return applyYAML(cfg, data)
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}

	set(&cfg.HTTPAddr, fc.HTTPAddr)
	set(&cfg.DatabaseURL, fc.DatabaseURL)
	set(&cfg.DefaultTimezone, fc.DefaultTimezone)
	set(&cfg.MaintenanceAt, fc.MaintenanceAt)
	if len(fc.CORSOrigins) > 0 {
		cfg.CORSOrigins = fc.CORSOrigins
	}

	set(&cfg.LLM.APIKey, fc.LLM.APIKey)
	set(&cfg.LLM.BaseURL, fc.LLM.BaseURL)
	set(&cfg.LLM.Model, fc.LLM.Model)
	if fc.LLM.Timeout != nil {
		d := parseDuration(*fc.LLM.Timeout)
		if d <= 0 {
			return fmt.Errorf("llm.timeout %q is not a positive duration", *fc.LLM.Timeout)
		}
		cfg.LLM.Timeout = d
	}

	set(&cfg.Push.VAPIDPublicKey, fc.Push.VAPIDPublicKey)
	set(&cfg.Push.VAPIDPrivateKey, fc.Push.VAPIDPrivateKey)
	set(&cfg.Push.VAPIDSubject, fc.Push.VAPIDSubject)
	set(&cfg.Push.TTL, fc.Push.TTL)
	set(&cfg.Push.RatePerSec, fc.Push.RatePerSec)
	set(&cfg.Push.Burst, fc.Push.Burst)

	set(&cfg.Log.Level, fc.Log.Level)
	set(&cfg.Log.Format, fc.Log.Format)
	set(&cfg.Telegram.Token, fc.Telegram.Token)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
