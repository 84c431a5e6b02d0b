package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"github.com/go-digitaltwin/go-ecr/timeseries"
	"github.com/go-digitaltwin/go-ecr/timeseries/influxdb"
)

// Config is the YAML configuration of the daemon.
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Neo4j Neo4jConfig `yaml:"neo4j"`

	// InfluxDB is optional; without it the daemon neither ingests nor stores
	// metrics.
	InfluxDB *influxdb.Config  `yaml:"influxdb"`
	Writer   timeseries.Config `yaml:"writer"`

	Catalog CatalogConfig `yaml:"catalog"`
	Events  EventsConfig  `yaml:"events"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Admin   AdminConfig   `yaml:"admin"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json logfmt"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	// CreateDatabase creates the database when missing, which Neo4j Community
	// Edition does not support.
	CreateDatabase bool `yaml:"createDatabase"`
	// RewriteLegacy converts components stored in the legacy single-property
	// format at start-up.
	RewriteLegacy bool `yaml:"rewriteLegacy"`
}

// CatalogConfig names an extra type catalog loaded after the built-in one.
type CatalogConfig struct {
	// Bucket is a gocloud.dev/blob URL, e.g. file:///etc/ecr or
	// s3://bucket?region=eu-central-1.
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
}

// EventsConfig names the gocloud.dev/pubsub topic receiving entity changes,
// e.g. nats://ecr.changes or rabbit://ecr.changes. Empty disables
// notifications.
type EventsConfig struct {
	Topic string `yaml:"topic"`
}

// IngestConfig names the gocloud.dev/pubsub subscription metric messages are
// consumed from. Empty disables ingestion.
type IngestConfig struct {
	Subscription string `yaml:"subscription"`
}

type AdminConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`
}

// DefaultConfig holds the values of settings absent from the configuration
// file.
func DefaultConfig() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Neo4j:  Neo4jConfig{URI: "neo4j://localhost:7687", Database: "neo4j"},
		Writer: timeseries.DefaultConfig(),
		Admin:  AdminConfig{Address: ":8080", ShutdownTimeout: 10 * time.Second},
	}
}

var configValidator = validator.New()

// Validate checks the configuration is complete and consistent.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}
	if (c.Catalog.Bucket == "") != (c.Catalog.Key == "") {
		return errors.New("catalog: bucket and key must be set together")
	}
	if c.Ingest.Subscription != "" && c.InfluxDB == nil {
		return errors.New("ingest: a subscription requires influxdb to be configured")
	}
	return nil
}

// ParseConfig decodes a YAML configuration over the defaults and validates the
// result. Unknown keys are rejected.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads the configuration file at path. An empty path yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return ParseConfig(bytes.NewReader(nil))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(bytes.NewReader(b))
}
