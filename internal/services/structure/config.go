package structure

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// Config analyzer thresholds.
type Config struct {
	MomentumCloseThreshold float64
	WeakRetestMinPct       float64
	WeakRetestMaxPct       float64
	MiddleZonePct          float64
	MinRR                  float64
	MinStrength            float64

	SwingWindow   int
	SwingLookback int

	LevelMergeTolerancePct float64
	RetestTolerancePct     float64
	MinLevelTouches        int
	MinorLookback          int
	MaxLevels              int

	StopBufferPct   float64
	TargetBufferPct float64
	RetestWindow    int

	ATRPeriod    int
	RSIPeriod    int
	ADXPeriod    int
	RSIBuy       float64
	RSISell      float64
	ADXThreshold float64
	EMAPeriod    int
	SMAPeriod    int
}

// DefaultConfig returns the shipped analyzer thresholds.
func DefaultConfig() Config {
	return Config{
		MomentumCloseThreshold: 1.5,
		WeakRetestMinPct:       5,
		WeakRetestMaxPct:       30,
		MiddleZonePct:          40,
		MinRR:                  2.0,
		MinStrength:            6,
		SwingWindow:            5,
		SwingLookback:          20,
		LevelMergeTolerancePct: 0.15,
		RetestTolerancePct:     0.15,
		MinLevelTouches:        2,
		MinorLookback:          20,
		MaxLevels:              64,
		StopBufferPct:          0.2,
		TargetBufferPct:        0.1,
		RetestWindow:           5,
		ATRPeriod:              14,
		RSIPeriod:              14,
		ADXPeriod:              14,
		RSIBuy:                 58,
		RSISell:                42,
		ADXThreshold:           22,
		EMAPeriod:              20,
		SMAPeriod:              100,
	}
}

// ATRBounds allowed ATR band for a timeframe. Zero bounds are open.
type ATRBounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether atr lies inside the band.
func (b ATRBounds) Contains(atr decimal.Decimal) bool {
	if !b.Min.IsZero() && atr.LessThan(b.Min) {
		return false
	}
	if !b.Max.IsZero() && atr.GreaterThan(b.Max) {
		return false
	}
	return true
}

// AssetParams per-asset trading parameters.
type AssetParams struct {
	Pair       domain.Pair
	Stake      decimal.Decimal
	Multiplier decimal.Decimal
	ATRBounds  map[domain.Timeframe]ATRBounds
}
