package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.TxTimeout)
	assert.Equal(t, 6, cfg.Invite.CodeLength)
	assert.Equal(t, 10, cfg.Invite.MaxAttempts)
	assert.Equal(t, 50, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 500, cfg.Leaderboard.MaxLimit)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Repair.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("SPOTCLAIM_TEST_DB_PASSWORD", "s3cret")
	path := writeConfig(t, t.TempDir(), `
store:
  driver: sqlite
sqlite:
  path: /tmp/spots.db
postgres:
  password: ${SPOTCLAIM_TEST_DB_PASSWORD}
leaderboard:
  default_limit: 20
  max_limit: 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/spots.db", cfg.SQLite.Path)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, 20, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 100, cfg.Leaderboard.MaxLimit)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Unsetenv("SPOTCLAIM_TEST_JWT_SECRET"))
	t.Cleanup(func() { _ = os.Unsetenv("SPOTCLAIM_TEST_JWT_SECRET") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SPOTCLAIM_TEST_JWT_SECRET=from-dotenv\n"), 0o600))
	path := writeConfig(t, dir, `
auth:
  jwt_secret: ${SPOTCLAIM_TEST_JWT_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
store:
  driver: mongo
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestLoadRejectsDefaultAboveMax(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
leaderboard:
  default_limit: 900
  max_limit: 100
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
