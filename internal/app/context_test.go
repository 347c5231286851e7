package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchledger/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "ledger.db")
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
	cfg.Auth.JWTSecret = "jwt"
	cfg.Cron.Secret = "cron"
	return cfg
}

func TestOpenWiresEngineAndScheduler(t *testing.T) {
	cfg := testConfig(t)
	log, err := NewLogger("warn", "json")
	require.NoError(t, err)

	c, err := Open(context.Background(), cfg, log)
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Scheduler)
	require.NotNil(t, c.Engine.NextRun)
	from := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	assert.True(t, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC).Equal(c.Engine.NextRun(from)))
	assert.Equal(t, "vote", c.Engine.Counter.Keys().Prefix)
	assert.Nil(t, c.Engine.Notifier)

	for name, err := range c.Engine.Health(context.Background()) {
		assert.NoError(t, err, name)
	}
	sc := c.ServerConfig()
	assert.Equal(t, "cron", sc.Auth.CronSecret)
	assert.Equal(t, 5.0, sc.RateLimit.VotesPerSecond)
}

func TestOpenWithoutCronOrWithRevalidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cron.Enabled = false
	cfg.Revalidation.Endpoint = "http://site.example"

	c, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.Scheduler)
	assert.Nil(t, c.Engine.NextRun)
	assert.NotNil(t, c.Engine.Notifier)
}

func TestOpenFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:1/0"
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", "text")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	_, err = NewLogger("loud", "text")
	require.Error(t, err)
}
