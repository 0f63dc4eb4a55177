// Package support carries service wiring helpers shared by the command
// line entry points.
package support

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS       NATSConfig       `yaml:"nats"`
	DynamoDB   DynamoDBConfig   `yaml:"dynamodb"`
	ReadModel  ReadModelConfig  `yaml:"read_model"`
	Engine     EngineConfig     `yaml:"engine"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	ChangeStream  string        `yaml:"change_stream"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type DynamoDBConfig struct {
	Table string `yaml:"table"`
	// Endpoint overrides the resolved endpoint, for local development
	// against dynamodb-local.
	Endpoint string `yaml:"endpoint"`
}

type ReadModelConfig struct {
	DSN string `yaml:"dsn"`
}

type EngineConfig struct {
	Lanes             int           `yaml:"lanes"`
	InFlightLimit     int           `yaml:"in_flight_limit"`
	EnrichMaxAttempts uint          `yaml:"enrich_max_attempts"`
	EnrichRetryDelay  time.Duration `yaml:"enrich_retry_delay"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay"`
	PublishRetryMax   time.Duration `yaml:"publish_retry_max"`
}

type CheckpointConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.ChangeStream == "" {
		c.NATS.ChangeStream = "hr-changes"
	}
	if c.NATS.MaxReconnect == 0 {
		c.NATS.MaxReconnect = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.DynamoDB.Table == "" {
		c.DynamoDB.Table = "hr-event-log"
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "checkpoint.json"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.ReadModel.DSN == "" {
		return errors.New("read_model.dsn is required")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
