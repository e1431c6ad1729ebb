package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs Load from an empty directory so no local config.json or .env leaks in
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "sentinel", cfg.Deals.ZeroValuePolicy)
	assert.Equal(t, 12, cfg.Deals.DefaultContractLength)
	assert.True(t, cfg.Deletion.EnableDeferredFallback)
	assert.True(t, cfg.Deletion.EnableDirectFallback)
	assert.True(t, cfg.Deletion.EnableDealOnlyFallback)
	assert.False(t, cfg.Deletion.ArchiveEnabled)
	assert.Equal(t, "0 30 3 * * *", cfg.Jobs.OrphanSweepCron)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.OrphanSweepTimeoutDuration())
	assert.Equal(t, 8*time.Hour, cfg.Auth.SessionTTLDuration())
	assert.Contains(t, cfg.RateLimit.WhitelistPaths, "/health")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("DEALS_ZEROVALUEPOLICY", "reject")
	t.Setenv("DELETION_ENABLEDIRECTFALLBACK", "false")
	t.Setenv("SESSION_SECRET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "reject", cfg.Deals.ZeroValuePolicy)
	assert.False(t, cfg.Deletion.EnableDirectFallback)
	assert.Equal(t, "from-env", cfg.Auth.SessionSecret)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempDir(t)
	body := `{"deals": {"defaultContractLength": 24}, "jobs": {"orphanSweepEnabled": true}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Deals.DefaultContractLength)
	assert.True(t, cfg.Jobs.OrphanSweepEnabled)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "sales", SSLMode: "require", ConnectTimeout: 5}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=sales sslmode=require connect_timeout=5", d.ConnectionString())
}

type mapSource map[string]string

func (m mapSource) GetSecretOrEnv(_ context.Context, secretName, _ string) (string, error) {
	if v, ok := m[secretName]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func TestApplySecrets(t *testing.T) {
	t.Run("populates config", func(t *testing.T) {
		cfg := &Config{}
		err := applySecrets(context.Background(), cfg, mapSource{
			"POSTGRES-MAIN-HOST":        "pg.internal",
			"POSTGRES-MAIN-PASSWORD":    "pw",
			"session-secret":            "sess",
			"admin-api-key":             "key",
			"storage-connection-string": "conn",
		})
		require.NoError(t, err)

		assert.Equal(t, "pg.internal", cfg.Database.Host)
		assert.Equal(t, "pw", cfg.Database.Password)
		assert.Empty(t, cfg.Database.User)
		assert.Equal(t, "sess", cfg.Auth.SessionSecret)
		assert.Equal(t, "key", cfg.ApiKey.Value)
		assert.Equal(t, "conn", cfg.Storage.CloudConnectionString)
	})

	t.Run("session secret required", func(t *testing.T) {
		err := applySecrets(context.Background(), &Config{}, mapSource{})
		assert.Error(t, err)
	})
}
