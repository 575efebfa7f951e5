package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, dir string) *Config {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFrom(t, t.TempDir())

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.MaxConns)
	assert.Equal(t, 2, cfg.Store.MinConns)
	assert.Equal(t, 30, cfg.Scraper.TimeoutSecs)
	assert.Equal(t, 2, cfg.Scraper.Retries)
	assert.Equal(t, 5.0, cfg.Scraper.RateLimitPerSec)
	assert.Equal(t, 5, cfg.Scraper.BreakerThreshold)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Scraper.Address, "scraper fallback is off unless configured")
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
store:
  driver: sqlite
  database_url: companies.db
scraper:
  address: localhost:3000
  registry_path: scrapers.yaml
server:
  port: 9090
log:
  level: debug
  format: console
`), 0o600))

	cfg := loadFrom(t, dir)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "companies.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "localhost:3000", cfg.Scraper.Address)
	assert.Equal(t, "scrapers.yaml", cfg.Scraper.RegistryPath)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Store.MaxConns, "unset keys keep their defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COMPANYREG_STORE_DRIVER", "memory")
	t.Setenv("COMPANYREG_SERVER_PORT", "7070")

	cfg := loadFrom(t, t.TempDir())

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.Error(t, InitLogger(LogConfig{Level: "nope"}))
}
