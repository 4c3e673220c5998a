// Package config loads the gateway configuration from a TOML file with
// APP_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hatsunemiku3939/eventgateway/publisher"
)

// Storage variants.
const (
	DatabaseInMemory = "inMemory"
	DatabaseFile     = "file"
	DatabasePostgres = "postgres"
)

// Publisher variants.
const (
	PublisherNoOp  = "noOp"
	PublisherKafka = "kafka"
	PublisherMQTT  = "mqtt"
)

type Config struct {
	DebugMode bool           `mapstructure:"debug_mode"`
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Gateway   GatewayConfig  `mapstructure:"gateway"`
	API       APIConfig      `mapstructure:"api"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and parameterizes the storage variant. Only the
// fields of the selected type matter.
type DatabaseConfig struct {
	Type string `mapstructure:"type"`

	// inMemory: optional JSON seed document.
	InitialDataPath string `mapstructure:"initial_data_path"`

	// file
	Path string `mapstructure:"path"`

	// postgres
	ConnectionString         string `mapstructure:"connection_string"`
	CacheEnabled             bool   `mapstructure:"cache_enabled"`
	CacheRefreshIntervalSecs int    `mapstructure:"cache_refresh_interval_secs"`
}

type GatewayConfig struct {
	MetricsEnabled    bool            `mapstructure:"metrics_enabled"`
	SamplingEnabled   bool            `mapstructure:"sampling_enabled"`
	SamplingThreshold uint8           `mapstructure:"sampling_threshold"`
	Publisher         PublisherConfig `mapstructure:"publisher"`
}

type PublisherConfig struct {
	Type  string                `mapstructure:"type"`
	Kafka publisher.KafkaConfig `mapstructure:"kafka"`
	MQTT  publisher.MQTTConfig  `mapstructure:"mqtt"`
}

type APIConfig struct {
	Prefix  string         `mapstructure:"prefix"`
	JWTAuth *JWTAuthConfig `mapstructure:"jwt_auth"`
}

type JWTAuthConfig struct {
	JWKSURL             string `mapstructure:"jwks_url"`
	RefreshIntervalSecs int    `mapstructure:"refresh_interval_secs"`
}

// Load reads the config file named by APP_CONFIG_PATH (default
// "config.toml"), applies APP_ environment overrides (APP_SERVER_PORT=8080
// overrides server.port), and validates the result. A missing config file
// is fine; defaults and environment carry the configuration.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	path := os.Getenv("APP_CONFIG_PATH")
	if path == "" {
		path = "config.toml"
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug_mode", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.type", DatabaseInMemory)
	v.SetDefault("database.cache_enabled", true)
	v.SetDefault("database.cache_refresh_interval_secs", 300)
	v.SetDefault("gateway.metrics_enabled", true)
	v.SetDefault("gateway.sampling_enabled", false)
	v.SetDefault("gateway.sampling_threshold", 100)
	v.SetDefault("gateway.publisher.type", PublisherNoOp)
	v.SetDefault("api.prefix", "/api/v1")
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case DatabaseInMemory:
	case DatabaseFile:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the file database")
		}
	case DatabasePostgres:
		if c.Database.ConnectionString == "" {
			return fmt.Errorf("database.connection_string is required for the postgres database")
		}
	default:
		return fmt.Errorf("unknown database.type %q", c.Database.Type)
	}

	switch c.Gateway.Publisher.Type {
	case PublisherNoOp, PublisherKafka, PublisherMQTT:
	default:
		return fmt.Errorf("unknown gateway.publisher.type %q", c.Gateway.Publisher.Type)
	}

	if c.Gateway.SamplingThreshold > 100 {
		return fmt.Errorf("gateway.sampling_threshold must be between 0 and 100")
	}
	return nil
}
