package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "directory_metadata", cfg.MetadataHash)
	assert.Equal(t, "file_data", cfg.DataHash)
	assert.GreaterOrEqual(t, cfg.PoolSize, 1)
	assert.LessOrEqual(t, cfg.PoolSize, 8)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileEnvFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redisdir.yaml")
	content := "host: redis.internal\nport: 7000\npool_size: 3\nconnect_timeout: 2s\nmetadata_hash: meta\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("REDISDIR_DATA_HASH", "blocks")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "7001"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal", cfg.Host)
	assert.Equal(t, 7001, cfg.Port)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "meta", cfg.MetadataHash)
	assert.Equal(t, "blocks", cfg.DataHash)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMetadataHash, cfg.MetadataHash)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DataHash = cfg.MetadataHash
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backend = BackendNutsDB
	assert.Error(t, cfg.Validate())
	cfg.Path = t.TempDir()
	assert.NoError(t, cfg.Validate())
}
