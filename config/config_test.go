package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/services/lifecycle"
)

const minimal = `
platform: binance
assets:
  - pair: btc_usdt
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, PlatformBinance, cfg.Platform)
	assert.Equal(t, BrokerPaper, cfg.Broker.Kind)
	assert.Equal(t, "1000", cfg.Broker.PaperBalance.String())
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, time.UTC, cfg.Location)

	require.Len(t, cfg.Assets, 1)
	asset := cfg.Assets[0]
	assert.Equal(t, domain.Pair{From: "BTC", To: "USDT"}, asset.Pair)
	assert.Equal(t, "10", asset.Stake.String())
	assert.Equal(t, "160", asset.Multiplier.String())
	assert.Empty(t, asset.ATRBounds)

	assert.Equal(t, 52, cfg.Candles[domain.Timeframe1w])
	assert.Equal(t, 150, cfg.Candles[domain.Timeframe1m])

	assert.Equal(t, 1.5, cfg.Analysis.MomentumCloseThreshold)
	assert.Equal(t, 30.0, cfg.Analysis.WeakRetestMaxPct)
	assert.Equal(t, 0.15, cfg.Analysis.LevelMergeTolerancePct)
	assert.Equal(t, 2.0, cfg.Analysis.MinRR)

	assert.Equal(t, "10", cfg.Risk.MaxDailyLoss.String())
	assert.True(t, cfg.Risk.MaxLossPerTrade.IsZero())
	assert.Equal(t, 30, cfg.Risk.MaxTradesPerDay)
	assert.Equal(t, 15.0, cfg.Risk.MaxRiskPerTradePct)
	assert.Equal(t, 180*time.Second, cfg.Risk.Cooldown)
	assert.Equal(t, 2, cfg.Risk.ConsecutiveLossThreshold)
	assert.Equal(t, 6.0, cfg.Risk.MinStrength)

	assert.Equal(t, domain.RiskModeTopDown, cfg.Lifecycle.Mode)
	assert.Equal(t, 2*time.Second, cfg.Lifecycle.MonitorInterval)
	assert.Equal(t, lifecycle.DefaultTiers(), cfg.Lifecycle.Tiers)
	assert.Equal(t, lifecycle.DefaultConfig().FastFail, cfg.Lifecycle.FastFail)
	assert.Equal(t, 300*time.Second, cfg.Lifecycle.Stagnation.Window)
	assert.Equal(t, 300*time.Second, cfg.Lifecycle.CancelAfter)

	assert.Equal(t, RetryConfig{Open: 3, Close: 5, Query: 5, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}, cfg.Retries)
	assert.True(t, cfg.MarketData.CheckStale)
	assert.True(t, cfg.Notify.Log)
	assert.Nil(t, cfg.Notify.Redis)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(`
platform: replay
replay:
  dir: ./recorded
  start: 2024-03-01T00:00:00Z
  step: 5m
timezone: Europe/Berlin
stake: "25"
assets:
  - pair: ETH_USDT
    stake: "5"
    multiplier: "50"
    atr_5m: {min: "1", max: "9"}
candles:
  4h: 0
lifecycle:
  risk_mode: scalping_with_cancel
  tiers:
    - {name: Lock, trigger_pct: 5, trail_pct: 2}
  fast_fail:
    windows:
      - {from: "22:00", to: "02:00", window: 30s}
      - {from: "08:00", to: "09:00", window: 45s}
notify:
  log: false
  redis:
    addr: localhost:6379
`))
	require.NoError(t, err)

	assert.Equal(t, PlatformReplay, cfg.Platform)
	assert.Equal(t, "./recorded", cfg.Replay.Dir)
	assert.Equal(t, 5*time.Minute, cfg.Replay.Step)
	assert.False(t, cfg.MarketData.CheckStale, "recorded data is always stale")
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())

	asset := cfg.Assets[0]
	assert.Equal(t, "5", asset.Stake.String())
	assert.Equal(t, "50", asset.Multiplier.String())
	require.Contains(t, asset.ATRBounds, domain.Timeframe5m)
	assert.Equal(t, "9", asset.ATRBounds[domain.Timeframe5m].Max.String())
	assert.Equal(t, 0, cfg.Candles[domain.Timeframe4h])

	assert.Equal(t, domain.RiskModeScalpingWithCancel, cfg.Lifecycle.Mode)
	assert.Equal(t, []lifecycle.Tier{{Name: "Lock", TriggerPct: 5, TrailPct: 2}}, cfg.Lifecycle.Tiers)
	require.Len(t, cfg.Lifecycle.FastFail.Regimes, 2)
	assert.Equal(t, lifecycle.Clock(8*60), cfg.Lifecycle.FastFail.Regimes[0].From)
	assert.Equal(t, "Europe/Berlin", cfg.Lifecycle.Location.String())

	assert.False(t, cfg.Notify.Log)
	require.NotNil(t, cfg.Notify.Redis)
	assert.Equal(t, "topdown:events", cfg.Notify.Redis.Channel)
	assert.Equal(t, "s3cret", cfg.Notify.Redis.Password)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "platform: [binance"},
		{"missing platform", "assets: [{pair: BTC_USDT}]"},
		{"unknown platform", "platform: kraken\nassets: [{pair: BTC_USDT}]"},
		{"no assets", "platform: binance"},
		{"bad pair", "platform: binance\nassets: [{pair: BTCUSDT}]"},
		{"duplicate asset", "platform: binance\nassets: [{pair: BTC_USDT}, {pair: btc_usdt}]"},
		{"negative stake", "platform: binance\nstake: \"-1\"\nassets: [{pair: BTC_USDT}]"},
		{"unknown timeframe", "platform: binance\nassets: [{pair: BTC_USDT}]\ncandles: {2m: 10}"},
		{"mandatory timeframe disabled", "platform: binance\nassets: [{pair: BTC_USDT}]\ncandles: {1w: 0}"},
		{"inverted atr bounds", "platform: binance\nassets: [{pair: BTC_USDT, atr_1m: {min: \"5\", max: \"1\"}}]"},
		{"inverted retest", "platform: binance\nassets: [{pair: BTC_USDT}]\nanalysis: {weak_retest_min_pct: 35, weak_retest_max_pct: 30}"},
		{"retest max out of range", "platform: binance\nassets: [{pair: BTC_USDT}]\nanalysis: {weak_retest_max_pct: 80}"},
		{"momentum out of range", "platform: binance\nassets: [{pair: BTC_USDT}]\nanalysis: {momentum_close_threshold: 4}"},
		{"min rr below one", "platform: binance\nassets: [{pair: BTC_USDT}]\nrisk: {min_rr_ratio: 0.5}"},
		{"concurrent trades", "platform: binance\nassets: [{pair: BTC_USDT}]\nrisk: {max_concurrent_trades: 2}"},
		{"unknown risk mode", "platform: binance\nassets: [{pair: BTC_USDT}]\nlifecycle: {risk_mode: YOLO}"},
		{"tiers not ascending", "platform: binance\nassets: [{pair: BTC_USDT}]\nlifecycle: {tiers: [{name: a, trigger_pct: 10, trail_pct: 4}, {name: b, trigger_pct: 8, trail_pct: 2}]}"},
		{"malformed clock", "platform: binance\nassets: [{pair: BTC_USDT}]\nlifecycle: {fast_fail: {windows: [{from: \"25:00\", to: \"02:00\", window: 30s}]}}"},
		{"overlapping windows", "platform: binance\nassets: [{pair: BTC_USDT}]\nlifecycle: {fast_fail: {windows: [{from: \"13:00\", to: \"17:00\", window: 60s}, {from: \"16:00\", to: \"18:00\", window: 30s}]}}"},
		{"replay without dir", "platform: replay\nassets: [{pair: BTC_USDT}]\nreplay: {start: 2024-01-01T00:00:00Z}"},
		{"replay with live broker", "platform: replay\nbroker: {kind: binance}\nassets: [{pair: BTC_USDT}]\nreplay: {dir: x, start: 2024-01-01T00:00:00Z}"},
		{"unknown timezone", "platform: binance\ntimezone: Mars/Olympus\nassets: [{pair: BTC_USDT}]"},
		{"redis without addr", "platform: binance\nassets: [{pair: BTC_USDT}]\nnotify: {redis: {db: 1}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
		})
	}
}

func TestParse_BinanceBrokerNeedsSecrets(t *testing.T) {
	doc := []byte("platform: binance\nbroker: {kind: binance}\nassets: [{pair: BTC_USDT}]")

	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	_, err := Parse(doc)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	cfg, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Secrets.BinanceAPIKey)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.example.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Assets, 2)
	assert.Len(t, cfg.Lifecycle.Tiers, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))
	cfg, err = GetFrom(newFlagSet(), []string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, PlatformBinance, cfg.Platform)
}

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test", flag.ContinueOnError)
}
