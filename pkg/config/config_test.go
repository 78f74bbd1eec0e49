package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/dirsync", cfg.Data.Dir)
	assert.Empty(t, cfg.Sync)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
data:
  dir: /tmp/dirsync-test
sync:
  host: ldap.example.com
  syncMode: usersAndGroups
  adminEmail: admin@example.com
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "unset keys keep their defaults")
	assert.Equal(t, "/tmp/dirsync-test", cfg.Data.Dir)
	assert.Equal(t, "ldap.example.com", cfg.Sync["host"])
	assert.Equal(t, "usersAndGroups", cfg.Sync["syncMode"])
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("DATA_DIR", "/data/override")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/data/override", cfg.Data.Dir)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
