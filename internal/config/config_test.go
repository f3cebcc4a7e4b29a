package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultScriptExtension, cfg.ScriptExtension)
	assert.False(t, cfg.StopOnEntry)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Audit.Driver)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ScriptExtension, cfg.ScriptExtension)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "luaud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /scripts
stop_on_entry: true
log:
  level: debug
  format: json
presets:
  enabled: true
  redis_addr: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/scripts", cfg.Root)
	assert.True(t, cfg.StopOnEntry)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Presets.Enabled)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultScriptExtension, cfg.ScriptExtension)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "luaud.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{nope"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
