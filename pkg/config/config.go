package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the records service
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Ledger configuration
	Ledger LedgerConfig `mapstructure:"ledger"`

	// Blob store configuration
	BlobStore BlobStoreConfig `mapstructure:"blob_store"`

	// JWT configuration for the identity collaborator
	JWT JWTConfig `mapstructure:"jwt"`

	// Access workflow configuration
	Access AccessConfig `mapstructure:"access"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// LedgerConfig holds hash-anchoring ledger configuration
type LedgerConfig struct {
	ChannelName     string `mapstructure:"channel_name"`
	ChaincodeID     string `mapstructure:"chaincode_id"`
	PeerEndpoint    string `mapstructure:"peer_endpoint"`
	OrdererEndpoint string `mapstructure:"orderer_endpoint"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// BlobStoreConfig holds ciphertext blob store configuration
type BlobStoreConfig struct {
	Path           string `mapstructure:"path"`
	ValueLogFileMB int    `mapstructure:"value_log_file_mb"`
	SyncWrites     bool   `mapstructure:"sync_writes"`
	GCIntervalMins int    `mapstructure:"gc_interval_mins"`
}

// JWTConfig holds JWT validation configuration
type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// AccessConfig holds access-request workflow configuration
type AccessConfig struct {
	SweepIntervalMins    int `mapstructure:"sweep_interval_mins"`
	DefaultDurationDays  int `mapstructure:"default_duration_days"`
	PendingRetentionDays int `mapstructure:"pending_retention_days"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/medvault")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "medvault")
	viper.SetDefault("database.user", "medvault")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Ledger defaults
	viper.SetDefault("ledger.channel_name", "healthrecords")
	viper.SetDefault("ledger.chaincode_id", "record-anchor")
	viper.SetDefault("ledger.tls_enabled", true)
	viper.SetDefault("ledger.timeout_seconds", 10)

	// Blob store defaults
	viper.SetDefault("blob_store.path", "/var/lib/medvault/blobs")
	viper.SetDefault("blob_store.value_log_file_mb", 100)
	viper.SetDefault("blob_store.sync_writes", true)
	viper.SetDefault("blob_store.gc_interval_mins", 30)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "medvault-dlt-phr")
	viper.SetDefault("jwt.audience", "medvault-principals")

	// Access workflow defaults
	viper.SetDefault("access.sweep_interval_mins", 60)
	viper.SetDefault("access.default_duration_days", 30)
	viper.SetDefault("access.pending_retention_days", 7)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if blobPath := os.Getenv("BLOB_STORE_PATH"); blobPath != "" {
		config.BlobStore.Path = blobPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if config.BlobStore.Path == "" {
		return fmt.Errorf("blob store path is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Access.DefaultDurationDays <= 0 {
		return fmt.Errorf("invalid default access duration: %d", config.Access.DefaultDurationDays)
	}

	return nil
}
