// Package config provides the configuration of the catalog service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendS3     = "s3"
)

// Engine types.
const (
	EngineMemory = "memory"
	EngineSQLite = "sqlite"
)

// Config holds the configuration of one catalog node.
type Config struct {
	// NodeID is embedded in every catalog key this node writes. Defaults to the hostname.
	NodeID string `json:"node_id" yaml:"node_id"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Backend configures the shared KV backend
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// Engine configures the table engine
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// BackendConfig holds KV backend configuration.
type BackendConfig struct {
	// Type is the backend type: memory, sqlite, pebble, s3
	Type string `json:"type" yaml:"type"`

	// Path is the SQLite database file or the Pebble directory
	Path string `json:"path" yaml:"path"`

	// ConditionalWrites makes table registration fail instead of overwriting
	// a row written concurrently by another process
	ConditionalWrites bool `json:"conditional_writes" yaml:"conditional_writes"`

	// Pebble configuration (for pebble type)
	Pebble PebbleConfig `json:"pebble" yaml:"pebble"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// PebbleConfig holds Pebble tuning.
type PebbleConfig struct {
	// CacheSizeMB is the block cache size in megabytes
	CacheSizeMB int64 `json:"cache_size_mb" yaml:"cache_size_mb"`

	// Sync fsyncs every write
	Sync bool `json:"sync" yaml:"sync"`
}

// S3Config holds S3 backend configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle addresses buckets by path, as most S3-compatible stores need
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// EngineConfig holds table engine configuration.
type EngineConfig struct {
	// Type is the engine type: memory, sqlite
	Type string `json:"type" yaml:"type"`

	// Path is the root directory of the SQLite engine's table files
	Path string `json:"path" yaml:"path"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether HTTP is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/catalogd",
		Backend: BackendConfig{
			Type: BackendSQLite,
			Pebble: PebbleConfig{
				CacheSizeMB: 64,
			},
			S3: S3Config{
				Prefix: "catalog/",
			},
		},
		Engine: EngineConfig{
			Type: EngineSQLite,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			Enabled:      true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/catalogd"
	}

	if c.NodeID == "" {
		c.NodeID = defaultNodeID()
	}

	if c.Backend.Path == "" {
		switch c.Backend.Type {
		case BackendSQLite:
			c.Backend.Path = filepath.Join(c.DataDir, "catalog.db")
		case BackendPebble:
			c.Backend.Path = filepath.Join(c.DataDir, "catalog.pebble")
		}
	}

	if c.Engine.Path == "" && c.Engine.Type == EngineSQLite {
		c.Engine.Path = filepath.Join(c.DataDir, "tables")
	}
}

// defaultNodeID is the hostname, or a random id when it is unavailable.
func defaultNodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "node-" + uuid.NewString()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Backend.Type {
	case BackendMemory, BackendSQLite, BackendPebble, BackendS3:
	default:
		return fmt.Errorf("invalid backend type: %s (must be memory, sqlite, pebble, or s3)", c.Backend.Type)
	}

	if c.Backend.Type == BackendS3 && c.Backend.S3.Bucket == "" {
		return fmt.Errorf("backend.s3.bucket is required when backend type is s3")
	}

	switch c.Engine.Type {
	case EngineMemory, EngineSQLite:
	default:
		return fmt.Errorf("invalid engine type: %s (must be memory or sqlite)", c.Engine.Type)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CATALOGD_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CATALOGD_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("CATALOGD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Backend configuration
	if v := os.Getenv("CATALOGD_BACKEND_TYPE"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("CATALOGD_BACKEND_PATH"); v != "" {
		cfg.Backend.Path = v
	}
	if v := os.Getenv("CATALOGD_BACKEND_CONDITIONAL_WRITES"); v != "" {
		cfg.Backend.ConditionalWrites = parseBool(v)
	}
	if v := os.Getenv("CATALOGD_PEBBLE_CACHE_SIZE_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Backend.Pebble.CacheSizeMB = n
		}
	}
	if v := os.Getenv("CATALOGD_S3_BUCKET"); v != "" {
		cfg.Backend.S3.Bucket = v
	}
	if v := os.Getenv("CATALOGD_S3_PREFIX"); v != "" {
		cfg.Backend.S3.Prefix = v
	}
	if v := os.Getenv("CATALOGD_S3_REGION"); v != "" {
		cfg.Backend.S3.Region = v
	}
	if v := os.Getenv("CATALOGD_S3_ENDPOINT"); v != "" {
		cfg.Backend.S3.Endpoint = v
	}
	if v := os.Getenv("CATALOGD_S3_USE_PATH_STYLE"); v != "" {
		cfg.Backend.S3.UsePathStyle = parseBool(v)
	}

	// Engine configuration
	if v := os.Getenv("CATALOGD_ENGINE_TYPE"); v != "" {
		cfg.Engine.Type = v
	}
	if v := os.Getenv("CATALOGD_ENGINE_PATH"); v != "" {
		cfg.Engine.Path = v
	}

	// Server configuration
	if v := os.Getenv("CATALOGD_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("CATALOGD_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = parseBool(v)
	}
	if v := os.Getenv("CATALOGD_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CATALOGD_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = parseBool(v)
	}

	// Log configuration
	if v := os.Getenv("CATALOGD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CATALOGD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	switch c.Backend.Type {
	case BackendSQLite:
		dirs = append(dirs, filepath.Dir(c.Backend.Path))
	case BackendPebble:
		dirs = append(dirs, c.Backend.Path)
	}
	if c.Engine.Type == EngineSQLite {
		dirs = append(dirs, c.Engine.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
