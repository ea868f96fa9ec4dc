package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/langmodel/internal/lm"
	"github.com/raaihank/langmodel/internal/pooling"
)

// EnvPrefix prefixes environment overrides, e.g. LANGMODEL_SERVER_PORT.
const EnvPrefix = "LANGMODEL"

var (
	mu      sync.Mutex
	current *viper.Viper
)

// Load loads configuration from file and environment variables. Defaults are
// registered first so every key can be overridden from the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(GetDefaults())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to register defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/langmodel/")
		v.AddConfigPath("$HOME/.langmodel/")
	}

	if err := v.MergeInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	current = v
	mu.Unlock()

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Model.NameOrPath == "" {
		return fmt.Errorf("model.name_or_path is required")
	}

	if config.Model.Family != "" {
		if _, err := lm.ParseFamily(config.Model.Family); err != nil {
			return fmt.Errorf("invalid model family: %w", err)
		}
	}

	if config.Model.AddedTokens < 0 {
		return fmt.Errorf("invalid added_tokens: %d", config.Model.AddedTokens)
	}

	// The layer count is unknown until the model loads; only the
	// strategy/layer pairing is checked here.
	if err := pooling.ValidateLayer(config.Inference.Extraction.Strategy, config.Inference.Extraction.Layer, 0); err != nil {
		return fmt.Errorf("invalid extraction: %w", err)
	}

	if config.Inference.BatchSize < 0 {
		return fmt.Errorf("invalid batch size: %d", config.Inference.BatchSize)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	return nil
}

// Watch calls callback with the reloaded configuration whenever the config
// file changes. Invalid reloads are logged and skipped.
func Watch(logger *zap.Logger, callback func(*Config)) error {
	mu.Lock()
	v := current
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		logger.Debug("No config file in use, hot reload disabled")
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := v.Unmarshal(newConfig); err != nil {
			logger.Error("Failed to reload config", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			logger.Error("Reloaded config is invalid", zap.String("file", e.Name), zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}

// LoadOptions returns the language model load options described by the
// model section.
func (c *Config) LoadOptions() ([]lm.Option, error) {
	opts := []lm.Option{lm.WithSeed(c.Model.Seed)}
	if c.Model.Family != "" {
		family, err := lm.ParseFamily(c.Model.Family)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lm.WithFamily(family))
	}
	if c.Model.Language != "" {
		opts = append(opts, lm.WithLanguage(c.Model.Language))
	}
	if c.Model.AddedTokens > 0 {
		opts = append(opts, lm.WithAddedTokens(c.Model.AddedTokens))
	}
	return opts, nil
}
