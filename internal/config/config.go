package config

import "time"

// Queue backends
const (
	QueueBackendAzure    = "azure"
	QueueBackendPostgres = "postgres"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Directory DirectoryConfig `mapstructure:"directory" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// AgentConfig contains settings for the agent process and its task pipeline.
type AgentConfig struct {
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	QueueCapacity   int           `mapstructure:"queue_capacity" validate:"required,gt=0"`
	BatchSize       int           `mapstructure:"batch_size" validate:"required,gt=0,lte=32"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
	// HealthAddr is the listen address of the health endpoint; empty disables it
	HealthAddr string `mapstructure:"health_addr" validate:"omitempty,hostname_port"`
}

// QueueConfig contains settings for the external message queue.
type QueueConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=azure postgres"`
	Name    string `mapstructure:"name" validate:"required"`
	// ConnectionString or EndpointURI selects how the azure backend authenticates
	ConnectionString  string        `mapstructure:"connection_string"`
	EndpointURI       string        `mapstructure:"endpoint_uri" validate:"omitempty,url"`
	MessageEncoding   string        `mapstructure:"message_encoding" validate:"required,oneof=base64 text"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"required,gt=0"`
}

// DirectoryConfig contains the Active Directory connection settings.
type DirectoryConfig struct {
	ServerFQDN         string `mapstructure:"server_fqdn" validate:"required,hostname|ip"`
	Port               int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	Username           string `mapstructure:"username" validate:"required"`
	Password           string `mapstructure:"password" validate:"required"`
	DomainName         string `mapstructure:"domain_name" validate:"required"`
	RootDN             string `mapstructure:"root_dn" validate:"required"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// DatabaseConfig contains the database settings used by the postgres queue backend.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}
