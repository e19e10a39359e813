package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// HyperliquidProvider reads candles and mid prices from the Hyperliquid info API.
// Coins are addressed by base asset, the quote is ignored.
type HyperliquidProvider struct {
	info *hyperliquid.Info
	now  func() time.Time
}

// NewHyperliquidProvider creates a Hyperliquid provider.
func NewHyperliquidProvider(info *hyperliquid.Info) *HyperliquidProvider {
	return &HyperliquidProvider{info: info, now: time.Now}
}

// Klines fetches count closed candles.
func (p *HyperliquidProvider) Klines(ctx context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	if p.info == nil {
		return nil, errors.New("hyperliquid info is nil")
	}

	now := p.now()
	endMs := now.UnixMilli()
	// two extra candles cover rounding and the candle still forming
	startMs := endMs - (int64(count)+2)*tf.Duration().Milliseconds()
	coin := strings.ToUpper(asset.From)

	candles, err := p.info.CandlesSnapshot(ctx, coin, tf.String(), startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch candles from Hyperliquid for %s", coin)
	}

	out := make([]domain.Candle, 0, len(candles))
	for i, k := range candles {
		c, err := parseCandle(tf, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "candle %d", i)
		}
		c.OpenTime = time.UnixMilli(k.TimeOpen)
		c.CloseTime = time.UnixMilli(k.TimeClose)
		if c.CloseTime.After(now) {
			continue
		}
		out = append(out, c)
	}

	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

// Price returns the mid price of the base coin.
func (p *HyperliquidProvider) Price(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	if p.info == nil {
		return decimal.Zero, errors.New("hyperliquid info is nil")
	}

	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to fetch mids from Hyperliquid")
	}

	mid, ok := mids[strings.ToUpper(asset.From)]
	if !ok || mid == "" {
		return decimal.Zero, fmt.Errorf("hyperliquid API returned empty mid price for %s", asset.From)
	}
	return decimal.NewFromString(mid)
}
