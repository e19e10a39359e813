// Package structure derives directional bias, price levels and entry signals
// from multi-timeframe candle structure.
package structure

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"github.com/vadiminshakov/topdown/pkg/indicators"
	"go.uber.org/zap"
)

// Analysis result of one analyzer pass over an asset.
type Analysis struct {
	Bias   domain.Bias
	Signal *domain.Signal
	// Reason why no signal was produced.
	Reason string
}

type biasEntry struct {
	weekly time.Time
	daily  time.Time
	bias   domain.Bias
}

// Analyzer structure analyzer. Per-asset state (bias cache, level book) is kept
// across calls; distinct assets may be analyzed concurrently.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	bias  map[string]biasEntry
	books map[string]*LevelBook
	// one lock per asset so concurrent calls for different assets do not serialize
	assetLocks map[string]*sync.Mutex
}

// Option configures the Analyzer.
type Option func(*Analyzer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(cfg Config, logger *zap.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		bias:       make(map[string]biasEntry),
		books:      make(map[string]*LevelBook),
		assetLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// requiredTimeframes must be present for any analysis.
var requiredTimeframes = []domain.Timeframe{
	domain.Timeframe1w, domain.Timeframe1d, domain.Timeframe5m, domain.Timeframe1m,
}

// Analyze runs bias determination, level maintenance and signal generation for one asset.
// Missing weekly, daily, 5m or 1m candles yield domain.ErrDataUnavailable.
func (a *Analyzer) Analyze(asset AssetParams, frames domain.Frames) (Analysis, error) {
	for _, tf := range requiredTimeframes {
		if !frames.Has(tf) {
			return Analysis{}, fmt.Errorf("%w: no %s candles for %s", domain.ErrDataUnavailable, tf, asset.Pair)
		}
	}

	lock := a.assetLock(asset.Pair)
	lock.Lock()
	defer lock.Unlock()

	logger := a.logger.With(zap.String("pair", asset.Pair.String()))

	bias := a.Bias(asset.Pair, frames[domain.Timeframe1w], frames[domain.Timeframe1d])
	book := a.book(asset.Pair)
	book.Update(frames, a.now())

	result := Analysis{Bias: bias}
	dir, ok := bias.Direction.TradeDirection()
	if !ok {
		result.Reason = fmt.Sprintf("no clear bias (weekly %s, daily %s)", bias.Weekly, bias.Daily)
		logger.Debug("no signal", zap.String("reason", result.Reason))
		return result, nil
	}

	signal, reason := a.generate(asset, frames, book.Levels(), bias, dir)
	if signal == nil {
		result.Reason = reason
		logger.Debug("no signal", zap.String("reason", reason))
		return result, nil
	}

	result.Signal = signal
	metrics.Signals.WithLabelValues(asset.Pair.String(), string(signal.Direction)).Inc()
	logger.Info("signal generated",
		zap.String("direction", string(signal.Direction)),
		zap.String("entry", signal.Entry.String()),
		zap.String("stop", signal.Stop.String()),
		zap.String("target", signal.Target.String()),
		zap.String("rr", signal.RiskReward().StringFixed(2)),
		zap.Float64("strength", signal.Strength),
	)

	return result, nil
}

// Bias combines weekly and daily structure. The result is cached per asset and
// recomputed only when the newest weekly or daily candle changes.
func (a *Analyzer) Bias(pair domain.Pair, weekly, daily []domain.Candle) domain.Bias {
	var lastW, lastD time.Time
	if len(weekly) > 0 {
		lastW = weekly[len(weekly)-1].OpenTime
	}
	if len(daily) > 0 {
		lastD = daily[len(daily)-1].OpenTime
	}

	a.mu.Lock()
	cached, ok := a.bias[pair.String()]
	a.mu.Unlock()
	if ok && cached.weekly.Equal(lastW) && cached.daily.Equal(lastD) {
		return cached.bias
	}

	w := ClassifyStructure(weekly, a.cfg.SwingWindow, a.cfg.SwingLookback)
	d := ClassifyStructure(daily, a.cfg.SwingWindow, a.cfg.SwingLookback)
	bias := domain.NewBias(w.Trend, d.Trend)

	a.logger.Info("bias updated",
		zap.String("pair", pair.String()),
		zap.String("bias", bias.Direction.Title()),
		zap.String("weekly", string(w.Trend)),
		zap.Bool("weekly_hh", w.HigherHigh),
		zap.Bool("weekly_hl", w.HigherLow),
		zap.String("daily", string(d.Trend)),
		zap.Bool("daily_hh", d.HigherHigh),
		zap.Bool("daily_hl", d.HigherLow),
		zap.String("daily_swing_high", d.LastSwingHigh.String()),
		zap.String("daily_swing_low", d.LastSwingLow.String()),
	)

	a.mu.Lock()
	a.bias[pair.String()] = biasEntry{weekly: lastW, daily: lastD, bias: bias}
	a.mu.Unlock()

	return bias
}

// Levels returns the current level book of the asset ordered by price.
func (a *Analyzer) Levels(pair domain.Pair) []domain.Level {
	a.mu.Lock()
	book, ok := a.books[pair.String()]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	lock := a.assetLock(pair)
	lock.Lock()
	defer lock.Unlock()
	return book.Levels()
}

func (a *Analyzer) generate(
	asset AssetParams,
	frames domain.Frames,
	levels []domain.Level,
	bias domain.Bias,
	dir domain.Direction,
) (*domain.Signal, string) {
	cfg := a.cfg
	c1m := frames[domain.Timeframe1m]
	entry := c1m[len(c1m)-1].Close

	atr1m, err := indicators.ATR(indicators.NewSeries(c1m), cfg.ATRPeriod)
	if err != nil {
		return nil, "not enough 1m candles for ATR"
	}
	if reason, ok := a.checkVolatility(asset, frames, atr1m); !ok {
		return nil, reason
	}

	breakout, ok := FindBreakout(c1m, alignATR(atr1m, len(c1m)), levels, dir, cfg.RetestWindow, cfg.MomentumCloseThreshold)
	if !ok {
		return nil, "no momentum close"
	}

	retest, ok := MeasureRetest(c1m, breakout, entry, dir)
	if !ok {
		return nil, "price back through broken level"
	}
	if retest.RetracePct < cfg.WeakRetestMinPct || retest.RetracePct > cfg.WeakRetestMaxPct {
		return nil, fmt.Sprintf("retest %.1f%% outside %.0f-%.0f%%", retest.RetracePct, cfg.WeakRetestMinPct, cfg.WeakRetestMaxPct)
	}

	if InMiddleZone(entry, levels, cfg.MiddleZonePct) {
		return nil, "price in middle zone"
	}

	if !bias.Allows(dir) {
		return nil, "direction conflicts with bias"
	}

	target, ok := NearestUntested(entry, levels, dir)
	if !ok {
		return nil, "no untested level target"
	}
	stop, ok := StructuralStop(frames[domain.Timeframe1d], entry, dir, cfg.SwingWindow)
	if !ok {
		return nil, "no daily swing behind entry"
	}

	long := dir == domain.DirectionLong
	signal := &domain.Signal{
		Asset:       asset.Pair,
		Direction:   dir,
		Entry:       entry,
		Stop:        applyBuffer(stop, cfg.StopBufferPct, !long),
		Target:      applyBuffer(target, cfg.TargetBufferPct, !long),
		GeneratedAt: a.now(),
		Stake:       asset.Stake,
		Multiplier:  asset.Multiplier,
		Bias:        bias,
		Level:       breakout.Level,
	}

	if !dir.Favorable(signal.Entry, signal.Target) {
		return nil, "target inside entry after buffer"
	}

	if signal.RiskReward().LessThan(decimal.NewFromFloat(cfg.MinRR)) {
		metrics.SignalsDropped.WithLabelValues(asset.Pair.String(), domain.RejectInsufficientRR.Label()).Inc()
		return nil, fmt.Sprintf("R:R %s below %.2f", signal.RiskReward().StringFixed(2), cfg.MinRR)
	}

	signal.Strength = Strength(cfg, breakout, retest, MeasureAgreement(cfg, frames, dir))
	if signal.Strength < cfg.MinStrength {
		metrics.SignalsDropped.WithLabelValues(asset.Pair.String(), domain.RejectWeakSignal.Label()).Inc()
		return nil, fmt.Sprintf("strength %.2f below %.2f", signal.Strength, cfg.MinStrength)
	}

	return signal, ""
}

// checkVolatility applies the per-asset ATR bands of 1m and 5m.
func (a *Analyzer) checkVolatility(asset AssetParams, frames domain.Frames, atr1m []float64) (string, bool) {
	if len(asset.ATRBounds) == 0 {
		return "", true
	}

	values := map[domain.Timeframe][]float64{domain.Timeframe1m: atr1m}
	if b, ok := asset.ATRBounds[domain.Timeframe5m]; ok && (!b.Min.IsZero() || !b.Max.IsZero()) {
		atr5m, err := indicators.ATR(indicators.NewSeries(frames[domain.Timeframe5m]), a.cfg.ATRPeriod)
		if err != nil {
			return "not enough 5m candles for ATR", false
		}
		values[domain.Timeframe5m] = atr5m
	}

	for tf, series := range values {
		bounds, ok := asset.ATRBounds[tf]
		if !ok {
			continue
		}
		last, _ := indicators.Last(series)
		if !bounds.Contains(decimal.NewFromFloat(last)) {
			return fmt.Sprintf("volatility out of bounds on %s (atr %.6f)", tf, last), false
		}
	}

	return "", true
}

func (a *Analyzer) book(pair domain.Pair) *LevelBook {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.books[pair.String()]
	if !ok {
		b = NewLevelBook(a.cfg)
		a.books[pair.String()] = b
	}
	return b
}

func (a *Analyzer) assetLock(pair domain.Pair) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.assetLocks[pair.String()]
	if !ok {
		l = &sync.Mutex{}
		a.assetLocks[pair.String()] = l
	}
	return l
}
