package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("PAPER_FEE_RATE", "0.002")
	t.Setenv("POLL_INTERVAL", "15s")
	t.Setenv("VENUE_RATE_LIMIT", "not-a-number")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 6380, cfg.RedisPort)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 0.002, cfg.PaperFeeRate)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 10.0, cfg.VenueRateLimit)
	assert.Contains(t, cfg.PostgresURL, "sslmode=disable")
}

func TestParseStrategies(t *testing.T) {
	doc := `
strategies:
  - id: grid
    name: BTC range
    symbol: BTC-USDT
    initial_capital: 5000
    params:
      upper_price: 110
      lower_price: 90
      grid_count: 5
  - id: dual_ma
    timeframe: 4H
    params:
      short_period: 10
      long_period: 30
`
	specs, err := ParseStrategies([]byte(doc))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "grid", specs[0].ID)
	assert.Equal(t, "BTC range", specs[0].Name)
	assert.Equal(t, 5000.0, specs[0].InitialCapital)
	assert.Equal(t, 0.5, specs[0].PositionSize, "unset fields keep defaults")
	assert.Equal(t, 110, specs[0].Params["upper_price"])

	assert.Equal(t, "dual_ma", specs[1].ID)
	assert.Equal(t, "4H", specs[1].Timeframe)
	assert.Equal(t, "BTC-USDT", specs[1].Symbol)
}

func TestParseStrategiesErrors(t *testing.T) {
	_, err := ParseStrategies([]byte("strategies:\n  - symbol: BTC-USDT\n"))
	assert.ErrorContains(t, err, "missing id")

	_, err = ParseStrategies([]byte("strategies: ["))
	assert.Error(t, err)
}

func TestLoadStrategiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  - id: grid\n"), 0o600))

	specs, err := LoadStrategies(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	_, err = LoadStrategies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
