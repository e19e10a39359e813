package marketdata

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

const binanceMaxKlines = 1000

// BinanceProvider reads spot klines and prices from Binance.
type BinanceProvider struct {
	client *binance.Client
	now    func() time.Time
}

// NewBinanceProvider creates a Binance provider.
func NewBinanceProvider(client *binance.Client) *BinanceProvider {
	return &BinanceProvider{client: client, now: time.Now}
}

// Klines fetches count closed candles. The candle still forming is dropped.
func (p *BinanceProvider) Klines(ctx context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	limit := min(count+1, binanceMaxKlines)

	klines, err := p.client.NewKlinesService().
		Symbol(asset.Symbol()).
		Interval(tf.String()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", asset.String())
	}

	now := p.now()
	out := make([]domain.Candle, 0, len(klines))
	for i, k := range klines {
		c, err := parseCandle(tf, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "kline %d", i)
		}
		c.OpenTime = time.UnixMilli(k.OpenTime)
		c.CloseTime = time.UnixMilli(k.CloseTime)
		if c.CloseTime.After(now) {
			continue
		}
		out = append(out, c)
	}

	return out, nil
}

// Price returns the last traded price.
func (p *BinanceProvider) Price(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	prices, err := p.client.NewListPricesService().Symbol(asset.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch price from Binance for %s", asset.String())
	}
	if len(prices) == 0 {
		return decimal.Zero, errors.Errorf("binance API returned empty prices for %s", asset.String())
	}

	return decimal.NewFromString(prices[0].Price)
}

// parseCandle parses exchange OHLCV strings.
func parseCandle(tf domain.Timeframe, open, high, low, closePrice, volume string) (domain.Candle, error) {
	fields := []struct {
		name string
		raw  string
	}{
		{"open", open}, {"high", high}, {"low", low}, {"close", closePrice}, {"volume", volume},
	}

	values := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.Candle{}, errors.Wrapf(err, "failed to parse %s price", f.name)
		}
		values[i] = v
	}

	return domain.Candle{
		Timeframe: tf,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
