package structure

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// convictionRange share of the candle range the close may sit away from the extreme.
const convictionRange = 0.2

// Breakout momentum close through a level.
type Breakout struct {
	Index     int
	Level     decimal.Decimal
	Magnitude float64 // (close - level) in ATR units
}

// Retest pullback after a breakout.
type Retest struct {
	Peak       decimal.Decimal
	RetracePct float64
}

// FindBreakout looks for the most recent momentum close among the last window
// candles, excluding the latest one. atr must be aligned with candles; zero
// entries mean ATR is not available for that bar.
func FindBreakout(
	candles []domain.Candle,
	atr []float64,
	levels []domain.Level,
	dir domain.Direction,
	window int,
	threshold float64,
) (Breakout, bool) {
	n := len(candles)
	first := n - 1 - window
	if first < 1 {
		first = 1
	}

	for k := n - 2; k >= first; k-- {
		c := candles[k]
		if k >= len(atr) || atr[k] <= 0 || !convicted(c, dir) {
			continue
		}

		level, ok := crossedLevel(candles[k-1].Close, c.Close, levels, dir)
		if !ok {
			continue
		}

		magnitude := c.Close.Sub(level).Abs().InexactFloat64() / atr[k]
		if magnitude < threshold {
			continue
		}

		return Breakout{Index: k, Level: level, Magnitude: magnitude}, true
	}

	return Breakout{}, false
}

// convicted reports whether the close sits near the extreme in the trade direction.
func convicted(c domain.Candle, dir domain.Direction) bool {
	rng := c.High.Sub(c.Low)
	if !rng.IsPositive() {
		return false
	}

	var gap decimal.Decimal
	if dir == domain.DirectionShort {
		if !c.Close.LessThan(c.Open) {
			return false
		}
		gap = c.Close.Sub(c.Low)
	} else {
		if !c.Close.GreaterThan(c.Open) {
			return false
		}
		gap = c.High.Sub(c.Close)
	}

	return gap.Div(rng).InexactFloat64() < convictionRange
}

// crossedLevel returns the level closest to the close among those crossed from prev to cur.
func crossedLevel(prev, cur decimal.Decimal, levels []domain.Level, dir domain.Direction) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, l := range levels {
		var crossed bool
		if dir == domain.DirectionShort {
			crossed = prev.GreaterThanOrEqual(l.Price) && cur.LessThan(l.Price)
		} else {
			crossed = prev.LessThanOrEqual(l.Price) && cur.GreaterThan(l.Price)
		}
		if !crossed {
			continue
		}
		if !found || cur.Sub(l.Price).Abs().LessThan(cur.Sub(best).Abs()) {
			best, found = l.Price, true
		}
	}
	return best, found
}

// MeasureRetest computes how much of the breakout leg has been given back at price.
// The second return value is false when price has fallen back through the level.
func MeasureRetest(candles []domain.Candle, b Breakout, price decimal.Decimal, dir domain.Direction) (Retest, bool) {
	peak := candles[b.Index].Close
	for _, c := range candles[b.Index:] {
		if dir == domain.DirectionShort {
			peak = decimal.Min(peak, c.Low)
		} else {
			peak = decimal.Max(peak, c.High)
		}
	}

	leg := peak.Sub(b.Level).Abs()
	if !leg.IsPositive() {
		return Retest{}, false
	}
	if dir == domain.DirectionShort && !price.LessThan(b.Level) {
		return Retest{}, false
	}
	if dir == domain.DirectionLong && !price.GreaterThan(b.Level) {
		return Retest{}, false
	}

	retrace := peak.Sub(price).Abs().Div(leg).Mul(hundred).InexactFloat64()
	return Retest{Peak: peak, RetracePct: retrace}, true
}

// InMiddleZone reports whether price sits in the middle band between the
// nearest level below and the nearest level above it.
func InMiddleZone(price decimal.Decimal, levels []domain.Level, zonePct float64) bool {
	var (
		below, above       decimal.Decimal
		hasBelow, hasAbove bool
	)
	for _, l := range levels {
		switch {
		case l.Price.LessThan(price) && (!hasBelow || l.Price.GreaterThan(below)):
			below, hasBelow = l.Price, true
		case l.Price.GreaterThan(price) && (!hasAbove || l.Price.LessThan(above)):
			above, hasAbove = l.Price, true
		}
	}
	if !hasBelow || !hasAbove {
		return false
	}

	position := price.Sub(below).Div(above.Sub(below)).Mul(hundred).InexactFloat64()
	lower := (100 - zonePct) / 2
	upper := 100 - lower
	return position > lower && position < upper
}

// NearestUntested returns the closest untested level beyond entry in the trade direction.
func NearestUntested(entry decimal.Decimal, levels []domain.Level, dir domain.Direction) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, l := range levels {
		if l.Kind != domain.LevelUntested || !dir.Favorable(entry, l.Price) {
			continue
		}
		if !found || l.Price.Sub(entry).Abs().LessThan(best.Sub(entry).Abs()) {
			best, found = l.Price, true
		}
	}
	return best, found
}

// StructuralStop returns the most recent daily swing behind entry:
// a swing low below entry for longs, a swing high above entry for shorts.
func StructuralStop(daily []domain.Candle, entry decimal.Decimal, dir domain.Direction, window int) (decimal.Decimal, bool) {
	if window <= 0 || len(daily) < 2*window+1 {
		return decimal.Zero, false
	}

	for i := len(daily) - 1 - window; i >= window; i-- {
		if dir == domain.DirectionShort {
			if isPivot(daily, i, window, func(c domain.Candle) decimal.Decimal { return c.High }, 1) &&
				daily[i].High.GreaterThan(entry) {
				return daily[i].High, true
			}
			continue
		}
		if isPivot(daily, i, window, func(c domain.Candle) decimal.Decimal { return c.Low }, -1) &&
			daily[i].Low.LessThan(entry) {
			return daily[i].Low, true
		}
	}

	return decimal.Zero, false
}

// isPivot checks that bar i beats all window neighbours on each side; sign 1 for highs, -1 for lows.
func isPivot(candles []domain.Candle, i, window int, value func(domain.Candle) decimal.Decimal, sign int) bool {
	v := value(candles[i])
	for j := i - window; j <= i+window; j++ {
		if j == i {
			continue
		}
		if v.Cmp(value(candles[j])) != sign {
			return false
		}
	}
	return true
}

// applyBuffer moves price by pct percent; away from entry for stops, toward entry for targets.
func applyBuffer(price decimal.Decimal, pct float64, up bool) decimal.Decimal {
	factor := decimal.NewFromFloat(pct).Div(hundred)
	if up {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}

// alignATR pads an indicator output on the left so index i matches candle i.
func alignATR(values []float64, n int) []float64 {
	out := make([]float64, n)
	offset := n - len(values)
	for i, v := range values {
		if offset+i < 0 || math.IsNaN(v) {
			continue
		}
		out[offset+i] = v
	}
	return out
}
