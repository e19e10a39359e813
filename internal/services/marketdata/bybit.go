package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

const bybitMaxKlines = 1000

// BybitProvider reads spot klines and tickers from Bybit V5.
type BybitProvider struct {
	client *bybit.Client
	now    func() time.Time
}

// NewBybitProvider creates a Bybit provider.
func NewBybitProvider(client *bybit.Client) *BybitProvider {
	return &BybitProvider{client: client, now: time.Now}
}

// Klines fetches count closed candles. Bybit lists newest first, the result
// is reordered oldest first.
func (p *BybitProvider) Klines(ctx context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	interval, err := convertIntervalToBybit(tf.String())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", tf)
	}

	limit := min(count+1, bybitMaxKlines)
	result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(asset.Symbol()),
		Interval: bybit.Interval(interval),
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", asset.String())
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", asset.String())
	}

	now := p.now()
	out := make([]domain.Candle, 0, len(result.Result.List))
	for i, k := range result.Result.List {
		openTime, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}

		c, err := parseCandle(tf, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "kline %d", i)
		}
		c.OpenTime = openTime
		// Bybit does not report the close time.
		c.CloseTime = openTime.Add(tf.Duration()).Add(-time.Millisecond)
		if c.CloseTime.After(now) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// Price returns the last spot trade price.
func (p *BybitProvider) Price(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	symbol := bybit.SymbolV5(asset.Symbol())

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch ticker from Bybit for %s", asset.String())
	}
	if result == nil || len(result.Result.Spot.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit API returned empty prices for %s", asset.String())
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

// convertIntervalToBybit converts "1m", "4h", "1d" style intervals to Bybit's
// "1", "240", "D".
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	numberPart := interval[:len(interval)-1]

	var n int64
	for _, r := range numberPart {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid interval number: %s", interval)
		}
		n = n*10 + int64(r-'0')
	}

	switch unit {
	case 'm':
		return fmt.Sprintf("%d", n), nil
	case 'h':
		return fmt.Sprintf("%d", n*60), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}

// parseTimestamp converts a Bybit millisecond timestamp string.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	var msec int64
	if _, err := fmt.Sscanf(ts, "%d", &msec); err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}
