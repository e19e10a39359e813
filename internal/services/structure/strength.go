package structure

import (
	"math"

	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/pkg/indicators"
)

const (
	momentumWeight = 4.0
	retestWeight   = 3.0
)

// Agreement lower-timeframe confirmation of the trade direction.
type Agreement struct {
	Trend4h  bool
	Trend1h  bool
	ADXTrend bool
	RSI      bool
}

// Score 0 to 3.
func (a Agreement) Score() float64 {
	var score float64
	if a.Trend4h {
		score++
	}
	if a.Trend1h {
		score++
	}
	if a.ADXTrend {
		score += 0.5
	}
	if a.RSI {
		score += 0.5
	}
	return score
}

// Strength composite signal score in [0, 10].
func Strength(cfg Config, b Breakout, r Retest, a Agreement) float64 {
	momentum := 0.0
	if cfg.MomentumCloseThreshold > 0 {
		momentum = math.Min(b.Magnitude/(2*cfg.MomentumCloseThreshold), 1) * momentumWeight
	}

	retest := 0.0
	if span := cfg.WeakRetestMaxPct - cfg.WeakRetestMinPct; span > 0 {
		quality := 1 - (r.RetracePct-cfg.WeakRetestMinPct)/span
		retest = math.Max(0, math.Min(quality, 1)) * retestWeight
	}

	return math.Min(momentum+retest+a.Score(), 10)
}

// MeasureAgreement evaluates moving-average stacking on 4h and 1h, ADX on 1h and RSI on 5m.
// Missing or short series count as no agreement.
func MeasureAgreement(cfg Config, frames domain.Frames, dir domain.Direction) Agreement {
	a := Agreement{
		Trend4h: MATrend(frames[domain.Timeframe4h], dir, cfg.EMAPeriod, cfg.SMAPeriod),
		Trend1h: MATrend(frames[domain.Timeframe1h], dir, cfg.EMAPeriod, cfg.SMAPeriod),
	}

	if adx, err := indicators.ADX(indicators.NewSeries(frames[domain.Timeframe1h]), cfg.ADXPeriod); err == nil {
		last, _ := indicators.Last(adx)
		a.ADXTrend = last >= cfg.ADXThreshold
	}

	if rsi, err := indicators.RSI(indicators.NewSeries(frames[domain.Timeframe5m]).Closes, cfg.RSIPeriod); err == nil {
		last, _ := indicators.Last(rsi)
		if dir == domain.DirectionShort {
			a.RSI = last <= cfg.RSISell
		} else {
			a.RSI = last >= cfg.RSIBuy
		}
	}

	return a
}
