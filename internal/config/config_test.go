package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CIVREG_CONFIG_FILE", "configs.json")
	t.Setenv("CIVREG_JWT_SIGNING_KEY", "k")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, time.Minute, cfg.ConfigCacheTTL)
	assert.Equal(t, 2*time.Second, cfg.DispatchInterval)
	assert.Equal(t, 5, cfg.AppendAttempts)
	assert.Empty(t, cfg.RedisAddrs)
}

func TestLoadDotenvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CIVREG_JWT_SIGNING_KEY=from-file\nCIVREG_CONFIG_URL=http://config\nCIVREG_REDIS_ADDRS=a:6379,b:6379\n"), 0o600))
	t.Setenv("CIVREG_JWT_SIGNING_KEY", "from-env")
	t.Cleanup(func() {
		os.Unsetenv("CIVREG_CONFIG_URL")
		os.Unsetenv("CIVREG_REDIS_ADDRS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWTSigningKey)
	assert.Equal(t, "http://config", cfg.ConfigURL)
	assert.Equal(t, []string{"a:6379", "b:6379"}, cfg.RedisAddrs)
}

func TestLoadMissingDotenvIsIgnored(t *testing.T) {
	t.Setenv("CIVREG_CONFIG_FILE", "configs.json")
	t.Setenv("CIVREG_JWT_SIGNING_KEY", "k")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	err := Config{DBDriver: DriverPostgres}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CIVREG_DATABASE_URL")
	assert.Contains(t, err.Error(), "CIVREG_CONFIG_URL")
	assert.Contains(t, err.Error(), "CIVREG_JWT_SIGNING_KEY")

	err = Config{DBDriver: "mysql", ConfigFile: "x", JWTSigningKey: "k"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}
