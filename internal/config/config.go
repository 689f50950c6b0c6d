// Package config loads application configuration from an optional YAML
// file and PAYFLOW_-prefixed environment variables, env taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Server struct {
	Port string `mapstructure:"port"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

// Provider holds the bank integration credentials. All fields except the
// checkout base URL come from the bank's affiliation paperwork.
type Provider struct {
	BaseURL         string `mapstructure:"base-url"`
	CheckoutBaseURL string `mapstructure:"checkout-base-url"`
	MerchantID      string `mapstructure:"merchant-id"`
	IntegratorID    string `mapstructure:"integrator-id"`
	TerminalID      string `mapstructure:"terminal-id"`
	SecretKey       string `mapstructure:"secret-key"`
}

type Otel struct {
	Exporter       string `mapstructure:"exporter"`
	Environment    string `mapstructure:"environment"`
	ServiceVersion string `mapstructure:"service-version"`
}

type RateLimit struct {
	WindowMs int `mapstructure:"window-ms"`
	Max      int `mapstructure:"max"`
}

type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Provider  Provider  `mapstructure:"provider"`
	Otel      Otel      `mapstructure:"otel"`
	RateLimit RateLimit `mapstructure:"rate-limit"`
}

// Load reads configuration from config.yaml in the given path (if one
// exists) and from the environment. A missing file is not an error; a
// malformed one is.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Viper only resolves env vars for keys it knows about, so every key
	// gets a default even when that default is empty.
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "payflow.db")
	v.SetDefault("otel.exporter", "stdout")
	v.SetDefault("otel.environment", "development")
	v.SetDefault("otel.service-version", "0.1.0")
	v.SetDefault("rate-limit.window-ms", 60000)
	v.SetDefault("rate-limit.max", 10)
	v.SetDefault("provider.base-url", "")
	v.SetDefault("provider.checkout-base-url", "")
	v.SetDefault("provider.merchant-id", "")
	v.SetDefault("provider.integrator-id", "")
	v.SetDefault("provider.terminal-id", "")
	v.SetDefault("provider.secret-key", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
