package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topdown/config"
	"github.com/vadiminshakov/topdown/internal/services/marketdata"
)

func replayConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	raw := fmt.Sprintf(`
platform: replay
replay:
  dir: %q
  start: "2024-03-01T00:00:00Z"
  step: 1m
broker:
  kind: paper
  paper_balance: "500"
  state_dir: %q
storage:
  history_dir: %q
assets:
  - pair: BTC_USDT
`, dir, filepath.Join(dir, "paper"), filepath.Join(dir, "history"))

	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func TestNewMarketProvider(t *testing.T) {
	tests := []struct {
		platform string
		expected any
	}{
		{config.PlatformBinance, &binanceProvider{}},
		{config.PlatformBybit, &bybitProvider{}},
		{config.PlatformHyperliquid, &hyperliquidProvider{}},
		{config.PlatformReplay, &replayProvider{}},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			mp, err := newMarketProvider(config.Config{Platform: tt.platform})
			require.NoError(t, err)
			assert.IsType(t, tt.expected, mp)
		})
	}

	_, err := newMarketProvider(config.Config{Platform: "kraken"})
	assert.EqualError(t, err, "unsupported platform: kraken")
}

func TestMarketProviders(t *testing.T) {
	for _, mp := range []marketProvider{&binanceProvider{}, &bybitProvider{}} {
		p, err := mp.Provider()
		require.NoError(t, err)
		assert.NotNil(t, p)
	}

	p, err := (&replayProvider{cfg: config.ReplayConfig{Dir: t.TempDir(), Start: clock}}).Provider()
	require.NoError(t, err)
	assert.IsType(t, &marketdata.ReplayProvider{}, p)
}

func TestBuild_Replay(t *testing.T) {
	cfg := replayConfig(t)

	rt, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Dispatcher.Run(ctx)

	done := make(chan error, 1)
	go func() { done <- rt.Bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		return !rt.Bot.Status().LastScan.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	st := rt.Bot.Status()
	assert.Equal(t, cfg.Replay.Start, st.LastScan)
	assert.Nil(t, st.Position)
	assert.False(t, st.Risk.State.Locked)
	assert.Equal(t, []string{"BTC_USDT"}, st.Assets)

	records, err := rt.History.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBuild_UnknownBroker(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Broker.Kind = "unknown"

	_, err := Build(context.Background(), cfg, nil)
	assert.EqualError(t, err, "unsupported broker: unknown")
}
