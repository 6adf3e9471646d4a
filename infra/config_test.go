package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.FeedConfig.Retries)
	assert.Equal(t, 3*time.Second, cfg.FeedConfig.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.FeedConfig.DialTimeout)
	assert.Equal(t, "1D", cfg.FeedConfig.WatchResolution)
	assert.Equal(t, 8082, cfg.HttpConfig.Port)
	assert.Empty(t, cfg.FeedConfig.Watch)
}

func TestLoadConfig_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"FEED_RETRIES=5\nFEED_RETRY_DELAY=250ms\nFEED_WATCH=Crypto.BTC/USD,Crypto.ETH/USD\n",
	), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("FEED_RETRIES")
		os.Unsetenv("FEED_RETRY_DELAY")
		os.Unsetenv("FEED_WATCH")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.FeedConfig.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.FeedConfig.RetryDelay)
	assert.Equal(t, []string{"Crypto.BTC/USD", "Crypto.ETH/USD"}, cfg.FeedConfig.Watch)
}

func TestLoadConfig_negativeRetries(t *testing.T) {
	t.Setenv("FEED_RETRIES", "-1")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
