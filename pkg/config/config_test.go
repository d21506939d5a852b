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
	for _, key := range []string{"SYMBOL", "DELIMITER", "LOOKBACK", "HISTORY_FILE", "LIVE", "HISTORY_PAGE_LIMIT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "volume:1000", cfg.Delimiter)
	assert.Equal(t, time.Duration(0), cfg.Lookback)
	assert.Equal(t, "./data/btcusdt.ticks", cfg.HistoryFile)
	assert.Equal(t, 0, cfg.HistoryPageLimit)
	assert.Equal(t, "replay", cfg.Mode())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYMBOL", "ethusdt")
	t.Setenv("DELIMITER", "min:5")
	t.Setenv("LOOKBACK", "90m")
	t.Setenv("HISTORY_START_ID", "123456")
	t.Setenv("HISTORY_PAGE_LIMIT", "50")
	t.Setenv("INITIAL_BALANCE", "250.5")
	t.Setenv("LIVE", "true")
	t.Setenv("ENABLE_ML", "true")
	t.Setenv("EXPORT_FORMAT", "PARQUET")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, "min:5", cfg.Delimiter)
	assert.Equal(t, 90*time.Minute, cfg.Lookback)
	assert.Equal(t, uint64(123456), cfg.HistoryStartID)
	assert.Equal(t, 50, cfg.HistoryPageLimit)
	assert.Equal(t, 250.5, cfg.InitialBalance)
	assert.True(t, cfg.Live)
	assert.True(t, cfg.EnableML)
	assert.Equal(t, "parquet", cfg.ExportFormat)
	assert.Equal(t, "live", cfg.Mode())
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Second},
		{"2h", 2 * time.Hour},
		{"1500", 1500 * time.Millisecond},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvDuration("TEST_DURATION", time.Second))
		})
	}
}

func TestLoadAssets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
assets:
  btcusdt:
    cluster_step: 0.5
    profile_interval: 12h
    value_area_pct: 0.7
    strategy:
      min_price_delta: 2.5
      distance_factor: 3
      commission:
        maker: 0.0002
        taker: 0.0004
  ETHUSDT:
    warmup_ticks: 1000
`), 0o644))

	assets, err := LoadAssets(path)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	btc := assets["BTCUSDT"]
	assert.Equal(t, 0.5, btc.ClusterStep)
	assert.Equal(t, 12*time.Hour, btc.ProfileInterval)
	assert.Equal(t, 0.7, btc.ValueAreaPct)
	assert.Equal(t, 2.5, btc.Strategy.MinPriceDelta)
	assert.Equal(t, 3.0, btc.Strategy.DistanceFactor)
	assert.Equal(t, 0.0004, btc.Strategy.Commission.Taker)
	assert.Equal(t, int64(1000), assets["ETHUSDT"].WarmupTicks)
}

func TestLoadAssetsErrors(t *testing.T) {
	_, err := LoadAssets(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assets: [1, 2"), 0o644))
	_, err = LoadAssets(path)
	assert.Error(t, err)
}
