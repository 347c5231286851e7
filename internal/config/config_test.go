package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 25*time.Hour, cfg.Launch.WindowTTL)
	assert.Equal(t, "0 6 * * *", cfg.Cron.Schedule)
	assert.Equal(t, "vote", cfg.Redis.KeyPrefix)
	assert.Equal(t, int64(500), cfg.Launch.MarkerScanBatch)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
redis:
  url: redis://cache:6379/2
launch:
  window_ttl: 30h
`))
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, "vote", cfg.Redis.KeyPrefix)
	assert.Equal(t, 30*time.Hour, cfg.Launch.WindowTTL)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"short window": "launch:\n  window_ttl: 2h\n",
		"bad cron":     "cron:\n  enabled: true\n  schedule: \"every day\"\n",
		"bad prefix":   "redis:\n  key_prefix: \"vo*te\"\n",
		"bad format":   "logging:\n  format: xml\n",
		"bad base":     "server:\n  base_path: api\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(Path(dir))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "launchledger.yml"), []byte("cron:\n  enabled: false\n"), 0o600))
	cfg, err = Load(Path(dir))
	require.NoError(t, err)
	assert.False(t, cfg.Cron.Enabled)
}
