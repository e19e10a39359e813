// Package marketdata serves candles and prices to the analyzer and the
// lifecycle engine from an exchange or a recorded replay.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 10
	defaultBurst             = 5
	requestTimeout           = 30 * time.Second
)

// Provider exchange specific candle and price source.
type Provider interface {
	// Klines returns up to count closed candles ordered oldest to newest.
	Klines(ctx context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error)
	Price(ctx context.Context, asset domain.Pair) (decimal.Decimal, error)
}

// Collector rate limits a provider and rejects short or stale series.
type Collector struct {
	provider   Provider
	limiter    *rate.Limiter
	logger     *zap.Logger
	now        func() time.Time
	checkStale bool
}

// Option configures the Collector.
type Option func(*Collector)

// WithRateLimit sets requests per second and burst for the provider.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Collector) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// WithoutStalenessCheck accepts candles of any age. Used for replay.
func WithoutStalenessCheck() Option {
	return func(c *Collector) {
		c.checkStale = false
	}
}

// NewCollector wraps provider.
func NewCollector(provider Provider, logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		provider:   provider,
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		logger:     logger,
		now:        time.Now,
		checkStale: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the last count closed candles. Any failure is reported as
// domain.ErrDataUnavailable.
func (c *Collector) Fetch(ctx context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	candles, err := c.fetch(ctx, asset, tf, count)
	if err != nil {
		metrics.MarketDataErrors.WithLabelValues(asset.String(), tf.String()).Inc()
		c.logger.Debug("market data unavailable",
			zap.String("pair", asset.String()),
			zap.String("timeframe", tf.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return candles, nil
}

func (c *Collector) fetch(ctx context.Context, asset domain.Pair, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	if !tf.IsValid() || count <= 0 {
		return nil, fmt.Errorf("%w: bad request %s x%d", domain.ErrDataUnavailable, tf, count)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	candles, err := c.provider.Klines(ctx, asset, tf, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrDataUnavailable, asset, tf, err)
	}
	if len(candles) < count {
		return nil, fmt.Errorf("%w: %s %s: got %d candles, need %d", domain.ErrDataUnavailable, asset, tf, len(candles), count)
	}
	candles = candles[len(candles)-count:]

	if c.checkStale {
		last := candles[len(candles)-1]
		if age := c.now().Sub(last.CloseTime); age > 2*tf.Duration() {
			return nil, fmt.Errorf("%w: %s %s: last candle closed %s ago", domain.ErrDataUnavailable, asset, tf, age.Truncate(time.Second))
		}
	}

	for i := range candles {
		candles[i].Timeframe = tf
	}
	return candles, nil
}

// FetchFrames fetches every timeframe with a positive count.
func (c *Collector) FetchFrames(ctx context.Context, asset domain.Pair, counts map[domain.Timeframe]int) (domain.Frames, error) {
	frames := make(domain.Frames, len(counts))
	for _, tf := range domain.AllTimeframes {
		n := counts[tf]
		if n <= 0 {
			continue
		}
		candles, err := c.Fetch(ctx, asset, tf, n)
		if err != nil {
			return nil, err
		}
		frames[tf] = candles
	}
	return frames, nil
}

// CurrentPrice returns the latest trade or mid price.
func (c *Collector) CurrentPrice(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	price, err := c.provider.Price(ctx, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %s: %v", domain.ErrDataUnavailable, asset, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %s: non-positive %s", domain.ErrDataUnavailable, asset, price)
	}
	return price, nil
}
