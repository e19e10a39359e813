package structure

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/pkg/indicators"
)

var hundred = decimal.NewFromInt(100)

// LevelBook price levels of one asset, kept across scan cycles.
type LevelBook struct {
	levels []domain.Level
	cfg    Config
}

// NewLevelBook creates an empty book.
func NewLevelBook(cfg Config) *LevelBook {
	return &LevelBook{cfg: cfg}
}

// Levels returns a copy of the book ordered by price.
func (b *LevelBook) Levels() []domain.Level {
	out := make([]domain.Level, len(b.levels))
	copy(out, b.levels)
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Update merges level candidates from the frames into the book and marks
// untested levels that lower timeframes have revisited since the break.
func (b *LevelBook) Update(frames domain.Frames, now time.Time) {
	for _, tf := range []domain.Timeframe{domain.Timeframe1d, domain.Timeframe4h} {
		for _, c := range b.majorCandidates(frames[tf], tf) {
			b.merge(c)
		}
	}

	minorTF := domain.Timeframe1h
	if !frames.Has(minorTF) {
		minorTF = domain.Timeframe5m
	}
	for _, c := range b.minorCandidates(frames[minorTF], minorTF, now) {
		b.merge(c)
	}

	b.markRevisited(frames[domain.Timeframe5m])
	b.markRevisited(frames[domain.Timeframe1m])
	b.trim()
}

type swingPoint struct {
	idx   int
	price decimal.Decimal
}

// majorCandidates classifies the swing points of a higher timeframe series.
// A swing broken by a later close and never revisited since is untested.
// A broken and revisited swing is tested, as is an unbroken swing touched often enough.
func (b *LevelBook) majorCandidates(candles []domain.Candle, tf domain.Timeframe) []domain.Level {
	s := indicators.NewSeries(candles)
	highs, err := indicators.SwingHighs(s.Highs, b.cfg.SwingWindow)
	if err != nil {
		return nil
	}
	lows, _ := indicators.SwingLows(s.Lows, b.cfg.SwingWindow)

	points := make([]swingPoint, 0, len(highs)+len(lows))
	for _, h := range highs {
		points = append(points, swingPoint{idx: h.Index, price: candles[h.Index].High})
	}
	for _, l := range lows {
		points = append(points, swingPoint{idx: l.Index, price: candles[l.Index].Low})
	}

	var out []domain.Level
	for _, p := range points {
		level := domain.Level{Price: p.price, Origin: tf, FirstSeen: candles[p.idx].OpenTime}

		broken := breakIndex(candles, p.idx, p.price)
		switch {
		case broken >= 0 && !b.revisited(candles[broken+1:], p.price):
			level.Kind = domain.LevelUntested
			level.BrokenAt = candles[broken].CloseTime
		case broken >= 0:
			level.Kind = domain.LevelTested
			level.BrokenAt = candles[broken].CloseTime
		case b.touchCount(candles, p.price) >= b.cfg.MinLevelTouches:
			level.Kind = domain.LevelTested
		default:
			continue
		}
		out = append(out, level)
	}

	return out
}

// minorCandidates short-lookback intraday extremes touched at least MinLevelTouches times.
func (b *LevelBook) minorCandidates(candles []domain.Candle, tf domain.Timeframe, now time.Time) []domain.Level {
	if len(candles) == 0 || b.cfg.MinorLookback <= 0 {
		return nil
	}
	recent := candles
	if len(recent) > b.cfg.MinorLookback {
		recent = recent[len(recent)-b.cfg.MinorLookback:]
	}

	high, low := extremes(recent)
	var out []domain.Level
	for _, price := range []decimal.Decimal{high, low} {
		if b.touchCount(recent, price) < b.cfg.MinLevelTouches {
			continue
		}
		out = append(out, domain.Level{Price: price, Kind: domain.LevelMinor, Origin: tf, FirstSeen: now})
	}
	return out
}

// merge adds the candidate unless an equivalent level exists. An existing level
// may only be promoted: minor to major, untested to tested.
func (b *LevelBook) merge(candidate domain.Level) {
	tol := decimal.NewFromFloat(b.cfg.LevelMergeTolerancePct)
	for i := range b.levels {
		existing := &b.levels[i]
		if !existing.Within(candidate.Price, tol) {
			continue
		}

		switch {
		case existing.Kind == domain.LevelMinor && candidate.Kind.Major():
			existing.Kind = candidate.Kind
			existing.Origin = candidate.Origin
			existing.BrokenAt = candidate.BrokenAt
		case existing.Kind == domain.LevelUntested && candidate.Kind == domain.LevelTested:
			existing.MarkTested()
		}
		return
	}

	b.levels = append(b.levels, candidate)
}

func (b *LevelBook) markRevisited(candles []domain.Candle) {
	for i := range b.levels {
		level := &b.levels[i]
		if level.Kind != domain.LevelUntested || level.BrokenAt.IsZero() {
			continue
		}
		for _, c := range candles {
			if c.OpenTime.Before(level.BrokenAt) {
				continue
			}
			if b.touches(c, level.Price) {
				level.MarkTested()
				break
			}
		}
	}
}

// trim drops the oldest minor levels first, then the oldest tested ones.
func (b *LevelBook) trim() {
	if b.cfg.MaxLevels <= 0 || len(b.levels) <= b.cfg.MaxLevels {
		return
	}

	rank := func(k domain.LevelKind) int {
		switch k {
		case domain.LevelMinor:
			return 0
		case domain.LevelTested:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(b.levels, func(i, j int) bool {
		ri, rj := rank(b.levels[i].Kind), rank(b.levels[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return b.levels[i].FirstSeen.Before(b.levels[j].FirstSeen)
	})
	b.levels = append([]domain.Level(nil), b.levels[len(b.levels)-b.cfg.MaxLevels:]...)
}

// touches reports whether the candle range reaches the tolerance band around price.
func (b *LevelBook) touches(c domain.Candle, price decimal.Decimal) bool {
	band := price.Mul(decimal.NewFromFloat(b.cfg.RetestTolerancePct)).Div(hundred)
	return c.Low.LessThanOrEqual(price.Add(band)) && c.High.GreaterThanOrEqual(price.Sub(band))
}

func (b *LevelBook) touchCount(candles []domain.Candle, price decimal.Decimal) int {
	n := 0
	for _, c := range candles {
		if b.touches(c, price) {
			n++
		}
	}
	return n
}

func (b *LevelBook) revisited(candles []domain.Candle, price decimal.Decimal) bool {
	for _, c := range candles {
		if b.touches(c, price) {
			return true
		}
	}
	return false
}

// breakIndex returns the first candle after from whose close crosses price, or -1.
func breakIndex(candles []domain.Candle, from int, price decimal.Decimal) int {
	for j := from + 1; j < len(candles); j++ {
		prev := candles[j-1].Close.Cmp(price)
		cur := candles[j].Close.Cmp(price)
		if (prev <= 0 && cur > 0) || (prev >= 0 && cur < 0) {
			return j
		}
	}
	return -1
}
