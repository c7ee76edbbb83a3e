package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffng14/accountably/internal/scheduler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, envLoaded, err := Load(filepath.Join(t.TempDir(), "missing.env"), "")
	require.NoError(t, err)
	assert.False(t, envLoaded)

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "Asia/Singapore", cfg.Timezone.String())
	assert.Equal(t, scheduler.At{Hour: 22, Minute: 45}, cfg.IssueAt)
	assert.Equal(t, scheduler.At{Hour: 22, Minute: 30}, cfg.ValidateAt)
	assert.Equal(t, scheduler.At{Hour: 8}, cfg.MorningAt)
	assert.Equal(t, 24*time.Hour, cfg.ChallengeTTL)
	assert.Equal(t, 30*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, "groq", cfg.Generator.Provider)
	assert.Equal(t, 4, cfg.IssueConcurrency)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ADMIN_TELEGRAM_USER_ID", "4242")
	t.Setenv("ISSUE_AT", "06:15")
	t.Setenv("GENERATOR_PROVIDER", "Anthropic")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, _, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), cfg.AdminUserID)
	assert.Equal(t, scheduler.At{Hour: 6, Minute: 15}, cfg.IssueAt)
	assert.Equal(t, "anthropic", cfg.Generator.Provider)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CRON_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CRON_KEY") })

	cfg, envLoaded, err := Load(path, "")
	require.NoError(t, err)
	assert.True(t, envLoaded)
	assert.Equal(t, "from-file", cfg.CronKey)
}

func TestLoadRejectsBadTime(t *testing.T) {
	t.Setenv("EXPIRE_AT", "25:00")
	_, _, err := Load("", "")
	assert.ErrorContains(t, err, "EXPIRE_AT")
}

func TestValidate(t *testing.T) {
	cfg, _, err := Load("", "")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate(false))

	err = cfg.Validate(true)
	assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
	assert.ErrorContains(t, err, "ADMIN_TELEGRAM_USER_ID")

	cfg.DatabaseDriver = "mysql"
	assert.ErrorContains(t, cfg.Validate(false), "DATABASE_DRIVER")
}
