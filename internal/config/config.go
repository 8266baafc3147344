package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// PricingInfo holds cost details for a specific model.
type PricingInfo struct {
	InputPerToken  float64 `mapstructure:"input_per_token"`
	OutputPerToken float64 `mapstructure:"output_per_token"`
	PerRequest     float64 `mapstructure:"per_request"` // flat cost, e.g. per generated image
}

type Config struct {
	Database struct {
		Primary struct {
			// DSN for the Postgres store. Empty means the in-memory
			// stores are used (single-process, non-durable).
			DSN string `mapstructure:"dsn"`
		} `mapstructure:"primary"`
	} `mapstructure:"database"`

	Providers struct {
		OpenaiApiKey string `mapstructure:"openai_api_key"`
		GoogleApiKey string `mapstructure:"google_api_key"`
		TextProvider string `mapstructure:"text_provider"` // "openai" or "gemini"
		TextModel    string `mapstructure:"text_model"`
		ImageModel   string `mapstructure:"image_model"`
		GeminiModel  string `mapstructure:"gemini_model"`
	} `mapstructure:"providers"`

	Batch struct {
		DefaultConcurrency int `mapstructure:"default_concurrency"`
		PollIntervalMs     int `mapstructure:"poll_interval_ms"`
		PollAttempts       int `mapstructure:"poll_attempts"`
		// Costs maps a task type to its credit cost per item.
		Costs map[string]int64 `mapstructure:"costs"`
	} `mapstructure:"batch"`

	Pacing struct {
		MinGapMs      int `mapstructure:"min_gap_ms"`
		MaxRetries    int `mapstructure:"max_retries"`
		BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	} `mapstructure:"pacing"`

	// Pricing: map[provider][model] = cost details.
	Pricing map[string]map[string]PricingInfo `mapstructure:"pricing"`
}

// PollInterval returns the settlement poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Batch.PollIntervalMs) * time.Millisecond
}

// PacingMinGap returns the pacing lane's minimum inter-call gap.
func (c *Config) PacingMinGap() time.Duration {
	return time.Duration(c.Pacing.MinGapMs) * time.Millisecond
}

// PacingBackoffBase returns the pacing lane's base backoff.
func (c *Config) PacingBackoffBase() time.Duration {
	return time.Duration(c.Pacing.BackoffBaseMs) * time.Millisecond
}

// CostPerItem returns the configured credit cost for a task type.
func (c *Config) CostPerItem(taskType string) int64 {
	return c.Batch.Costs[taskType]
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("providers.text_provider", "openai")
	viper.SetDefault("providers.text_model", "gpt-4o-mini")
	viper.SetDefault("providers.image_model", "dall-e-3")
	viper.SetDefault("providers.gemini_model", "models/gemini-1.5-flash")
	viper.SetDefault("batch.default_concurrency", 2)
	viper.SetDefault("batch.poll_interval_ms", 2000)
	viper.SetDefault("batch.poll_attempts", 900)
	viper.SetDefault("batch.costs", map[string]int64{"text": 1, "image": 6})
	viper.SetDefault("pacing.min_gap_ms", 1100)
	viper.SetDefault("pacing.max_retries", 3)
	viper.SetDefault("pacing.backoff_base_ms", 5000)

	// Allow Viper to read environment variables, and bind the provider
	// keys explicitly so the conventional env var names work without a
	// prefix.
	viper.AutomaticEnv()
	viper.BindEnv("providers.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("providers.google_api_key", "GEMINI_API_KEY")
	viper.BindEnv("database.primary.dsn", "DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
