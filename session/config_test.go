package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Dialect)
	assert.False(t, cfg.LogQueries)
	assert.Zero(t, cfg.MaxCascadeDepth)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystone.yaml")
	content := "dialect: sqlite\nlog_queries: true\nmax_cascade_depth: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Dialect)
	assert.True(t, cfg.LogQueries)
	assert.Equal(t, 5, cfg.MaxCascadeDepth)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("KEYSTONE_DIALECT", "mysql")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Dialect)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
