// Package config loads the host daemon configuration: defaults, then the
// YAML file, then environment overrides, then validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"driftdb/internal/logging"
)

// Storage backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendMongo  = "mongo"
)

// Config is the host daemon configuration.
type Config struct {
	Logging     logging.Config     `yaml:"logging"`
	Transport   TransportConfig    `yaml:"transport"`
	Storage     StorageConfig      `yaml:"storage"`
	Collections []CollectionConfig `yaml:"collections"`
}

// TransportConfig selects the NATS wiring of the host.
type TransportConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	WorkerID      string `yaml:"worker_id"`
}

// StorageConfig selects the storage collaborator backing collections.
type StorageConfig struct {
	Backend string             `yaml:"backend"`
	File    FileStorageConfig  `yaml:"file"`
	Mongo   MongoStorageConfig `yaml:"mongo"`
}

// FileStorageConfig locates snapshot files, one per collection.
type FileStorageConfig struct {
	Dir string `yaml:"dir"`
}

// MongoStorageConfig locates the MongoDB deployment.
type MongoStorageConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// CollectionConfig declares a collection served by the host and its
// secondary indexes.
type CollectionConfig struct {
	Name           string   `yaml:"name"`
	Indexes        []string `yaml:"indexes"`
	OrderedIndexes []string `yaml:"ordered_indexes"`
}

// Default returns the baseline configuration: memory storage, local NATS,
// console logging.
func Default() Config {
	return Config{
		Logging: logging.DefaultConfig(),
		Transport: TransportConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "driftdb",
			WorkerID:      "default",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			File:    FileStorageConfig{Dir: "data"},
			Mongo:   MongoStorageConfig{Database: "driftdb"},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays DRIFTDB_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DRIFTDB_NATS_URL"); v != "" {
		c.Transport.NATSURL = v
	}
	if v := os.Getenv("DRIFTDB_SUBJECT_PREFIX"); v != "" {
		c.Transport.SubjectPrefix = v
	}
	if v := os.Getenv("DRIFTDB_WORKER_ID"); v != "" {
		c.Transport.WorkerID = v
	}
	if v := os.Getenv("DRIFTDB_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("DRIFTDB_STORAGE_DIR"); v != "" {
		c.Storage.File.Dir = v
	}
	if v := os.Getenv("DRIFTDB_MONGO_URI"); v != "" {
		c.Storage.Mongo.URI = v
	}
	if v := os.Getenv("DRIFTDB_MONGO_DATABASE"); v != "" {
		c.Storage.Mongo.Database = v
	}
	if v := os.Getenv("DRIFTDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the host cannot run with.
func (c *Config) Validate() error {
	if c.Transport.NATSURL == "" {
		return fmt.Errorf("transport: nats_url is required")
	}
	if c.Transport.WorkerID == "" {
		return fmt.Errorf("transport: worker_id is required")
	}
	if c.Transport.SubjectPrefix == "" {
		return fmt.Errorf("transport: subject_prefix is required")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.File.Dir == "" {
			return fmt.Errorf("storage: file backend requires dir")
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage: mongo backend requires uri")
		}
		if c.Storage.Mongo.Database == "" {
			return fmt.Errorf("storage: mongo backend requires database")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}

	seen := map[string]struct{}{}
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collections: name is required")
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("collections: duplicate name %q", col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}
