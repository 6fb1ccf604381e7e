package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SECUROTRON_QUEUE_NAME for queue.name.
const EnvPrefix = "SECUROTRON"

// ErrInvalidConfig is returned when the loaded configuration fails validation
var ErrInvalidConfig = errors.New("configuration validation failed")

// defaults are applied before any file or environment value.
// Every key must appear here or in requiredKeys so that viper binds its
// environment variable during Unmarshal.
var defaults = map[string]any{
	"agent.log_level":        "info",
	"agent.queue_capacity":   100,
	"agent.batch_size":       32,
	"agent.poll_interval":    "3s",
	"agent.shutdown_timeout": "30s",
	"agent.health_addr":      ":8080",

	"queue.backend":            QueueBackendAzure,
	"queue.message_encoding":   "base64",
	"queue.visibility_timeout": "30s",

	"directory.port":                 636,
	"directory.insecure_skip_verify": false,
}

// requiredKeys have no default and must come from a file or the environment
var requiredKeys = []string{
	"queue.name",
	"queue.connection_string",
	"queue.endpoint_uri",
	"directory.server_fqdn",
	"directory.username",
	"directory.password",
	"directory.domain_name",
	"directory.root_dn",
	"database.url",
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given config file instead of
// searching for config.yaml in the working directory. An empty path searches.
func LoadFrom(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadQueueFrom loads configuration for commands that only talk to the
// queue backend. The directory section is left unvalidated, so its
// credentials need not be present.
func LoadQueueFrom(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateQueue(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and the backend-specific requirements.
func Validate(cfg *Config) error {
	return validate(cfg)
}

// ValidateQueue is Validate without the directory section.
func ValidateQueue(cfg *Config) error {
	return validate(cfg, "Directory")
}

// validate checks cfg, skipping the named top-level sections.
func validate(cfg *Config, skip ...string) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateQueueBackend, Config{})

	var err error
	if len(skip) == 0 {
		err = v.Struct(cfg)
	} else {
		err = v.StructExcept(cfg, skip...)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// validateQueueBackend enforces the settings each queue backend depends on.
func validateQueueBackend(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	switch cfg.Queue.Backend {
	case QueueBackendAzure:
		if cfg.Queue.ConnectionString == "" && cfg.Queue.EndpointURI == "" {
			sl.ReportError(cfg.Queue.ConnectionString, "Queue.ConnectionString",
				"ConnectionString", "required_without", "EndpointURI")
		}
	case QueueBackendPostgres:
		if cfg.Database.URL == "" {
			sl.ReportError(cfg.Database.URL, "Database.URL", "URL", "required_if", "Backend postgres")
		}
	}
}
