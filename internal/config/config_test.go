package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "policy.yaml", cfg.Policy.Path)
	assert.Equal(t, "http://localhost:9222", cfg.Capture.DevToolsURL)
	assert.Equal(t, 8, cfg.Capture.Concurrency)
	assert.Equal(t, 7, cfg.Retention.CleanupDays)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracktap.yaml")
	content := `sqlite:
  db: /tmp/tracktap-test.db
policy:
  path: /etc/tracktap/policy.yaml
log:
  level: debug
capture:
  concurrency: 4
retention:
  cleanupDays: 14
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tracktap-test.db", cfg.Sqlite.Db)
	assert.Equal(t, "/etc/tracktap/policy.yaml", cfg.Policy.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Capture.Concurrency)
	assert.Equal(t, 14, cfg.Retention.CleanupDays)
	// 未覆盖的字段保留默认值
	assert.Equal(t, "http://localhost:9222", cfg.Capture.DevToolsURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
