package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/backbone/internal/config"
	"github.com/guildforge/backbone/pkg/errs"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_NAME", "guildcore")
	os.Setenv("TRANSLATION_PATH", "/etc/backbone/translations.json")
	t.Cleanup(func() {
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_NAME")
		os.Unsetenv("TRANSLATION_PATH")
	})
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 10, cfg.DBPoolSize)
	assert.Equal(t, 5*time.Second, cfg.DBQueryTimeout)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, int64(2<<20), cfg.TranslationMaxBytes)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	setRequired(t)
	os.Setenv("DB_POOL_SIZE", "25")
	os.Setenv("DB_QUERY_TIMEOUT", "2s")
	defer os.Unsetenv("DB_POOL_SIZE")
	defer os.Unsetenv("DB_QUERY_TIMEOUT")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 25, cfg.DBPoolSize)
	assert.Equal(t, 2*time.Second, cfg.DBQueryTimeout)
}

func TestLoadFailsWithoutRequiredFields(t *testing.T) {
	os.Unsetenv("DB_HOST")
	os.Unsetenv("DB_NAME")
	os.Unsetenv("TRANSLATION_PATH")

	_, err := config.Load()

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestLoadRejectsNonPositivePoolSize(t *testing.T) {
	setRequired(t)
	os.Setenv("DB_POOL_SIZE", "0")
	defer os.Unsetenv("DB_POOL_SIZE")

	_, err := config.Load()

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfig))
}
