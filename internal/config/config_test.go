package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(cfg.DataDir, "catalog.db"), cfg.Backend.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "tables"), cfg.Engine.Path)
}

func TestResolve_DefaultsNodeID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	assert.NotEmpty(t, cfg.NodeID)
}

func TestResolve_PebblePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/catalogd"
	cfg.Backend.Type = BackendPebble
	cfg.Resolve()
	assert.Equal(t, "/var/lib/catalogd/catalog.pebble", cfg.Backend.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing node id", func(c *Config) { c.NodeID = "" }},
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"bad backend", func(c *Config) { c.Backend.Type = "etcd" }},
		{"s3 without bucket", func(c *Config) { c.Backend.Type = BackendS3 }},
		{"bad engine", func(c *Config) { c.Engine.Type = "mito" }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.NodeID = "node-a"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: node-7
backend:
  type: s3
  conditional_writes: true
  s3:
    bucket: meta
    endpoint: http://localhost:9000
    use_path_style: true
engine:
  type: memory
http:
  read_timeout: 5s
log:
  level: debug
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.NodeID)
	assert.Equal(t, BackendS3, cfg.Backend.Type)
	assert.True(t, cfg.Backend.ConditionalWrites)
	assert.Equal(t, "meta", cfg.Backend.S3.Bucket)
	assert.True(t, cfg.Backend.S3.UsePathStyle)
	assert.Equal(t, "catalog/", cfg.Backend.S3.Prefix, "unset fields keep defaults")
	assert.Equal(t, EngineMemory, cfg.Engine.Type)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node_id":"node-j","backend":{"type":"pebble"}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node-j", cfg.NodeID)
	assert.Equal(t, BackendPebble, cfg.Backend.Type)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "catalogd.toml")
	require.NoError(t, os.WriteFile(toml, []byte(`node_id = "x"`), 0644))
	_, err = LoadFromFile(toml)
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{`), 0644))
	_, err = LoadFromFile(broken)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CATALOGD_NODE_ID", "env-node")
	t.Setenv("CATALOGD_BACKEND_TYPE", "pebble")
	t.Setenv("CATALOGD_BACKEND_CONDITIONAL_WRITES", "1")
	t.Setenv("CATALOGD_PEBBLE_CACHE_SIZE_MB", "128")
	t.Setenv("CATALOGD_GRPC_ENABLED", "false")
	t.Setenv("CATALOGD_HTTP_ADDR", ":18080")
	t.Setenv("CATALOGD_LOG_FORMAT", "console")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "env-node", cfg.NodeID)
	assert.Equal(t, BackendPebble, cfg.Backend.Type)
	assert.True(t, cfg.Backend.ConditionalWrites)
	assert.Equal(t, int64(128), cfg.Backend.Pebble.CacheSizeMB)
	assert.False(t, cfg.GRPC.Enabled)
	assert.Equal(t, ":18080", cfg.HTTP.Addr)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, cfg.Engine.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
