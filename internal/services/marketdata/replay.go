package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// ReplayProvider serves recorded candles up to a moving cursor. Files are named
// <PAIR>_<timeframe>.json, e.g. BTC_USDT_5m.json, and hold a JSON array of candles.
type ReplayProvider struct {
	mu     sync.RWMutex
	series map[string][]domain.Candle
	cursor time.Time
}

// NewReplayProvider creates an empty provider with the cursor at start.
func NewReplayProvider(start time.Time) *ReplayProvider {
	return &ReplayProvider{series: map[string][]domain.Candle{}, cursor: start}
}

// LoadReplayDir reads every recorded series for assets from dir.
func LoadReplayDir(dir string, assets []domain.Pair, start time.Time) (*ReplayProvider, error) {
	p := NewReplayProvider(start)
	for _, asset := range assets {
		for _, tf := range domain.AllTimeframes {
			path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", asset, tf))
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, errors.Wrapf(err, "read %s", path)
			}

			var candles []domain.Candle
			if err := json.Unmarshal(data, &candles); err != nil {
				return nil, errors.Wrapf(err, "decode %s", path)
			}
			p.Load(asset, tf, candles)
		}
	}
	return p, nil
}

// Load replaces the recorded series of asset and tf.
func (p *ReplayProvider) Load(asset domain.Pair, tf domain.Timeframe, candles []domain.Candle) {
	sorted := make([]domain.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })
	for i := range sorted {
		sorted[i].Timeframe = tf
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[replayKey(asset, tf)] = sorted
}

// Advance moves the cursor forward.
func (p *ReplayProvider) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = p.cursor.Add(d)
}

// Now returns the cursor. Usable as a clock for the other components.
func (p *ReplayProvider) Now() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Klines returns the last count candles closed at or before the cursor.
func (p *ReplayProvider) Klines(_ context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	closed := p.closed(asset, tf)
	if len(closed) == 0 {
		return nil, errors.Errorf("no recorded %s candles for %s before %s", tf, asset, p.cursor.Format(time.RFC3339))
	}
	if len(closed) > count {
		closed = closed[len(closed)-count:]
	}

	out := make([]domain.Candle, len(closed))
	copy(out, closed)
	return out, nil
}

// Price returns the close of the latest 1m candle, falling back to 5m.
func (p *ReplayProvider) Price(_ context.Context, asset domain.Pair) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, tf := range []domain.Timeframe{domain.Timeframe1m, domain.Timeframe5m} {
		if closed := p.closed(asset, tf); len(closed) > 0 {
			return closed[len(closed)-1].Close, nil
		}
	}
	return decimal.Zero, errors.Errorf("no recorded price for %s", asset)
}

// closed caller holds mu.
func (p *ReplayProvider) closed(asset domain.Pair, tf domain.Timeframe) []domain.Candle {
	series := p.series[replayKey(asset, tf)]
	n := sort.Search(len(series), func(i int) bool {
		return series[i].CloseTime.After(p.cursor)
	})
	return series[:n]
}

func replayKey(asset domain.Pair, tf domain.Timeframe) string {
	return asset.String() + "_" + tf.String()
}
