package structure

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/pkg/indicators"
)

// Structure swing structure of one timeframe.
type Structure struct {
	Trend         domain.TrendDirection
	HigherHigh    bool
	HigherLow     bool
	LowerHigh     bool
	LowerLow      bool
	LastSwingHigh decimal.Decimal
	LastSwingLow  decimal.Decimal
}

// ClassifyStructure derives the trend of a candle series from its last two swing highs and lows.
// Series shorter than lookback or with fewer than two swings of either kind are neutral.
func ClassifyStructure(candles []domain.Candle, window, lookback int) Structure {
	st := Structure{Trend: domain.TrendDirectionNeutral}
	if len(candles) == 0 {
		return st
	}

	s := indicators.NewSeries(candles)
	st.LastSwingHigh, st.LastSwingLow = extremes(candles)

	if len(candles) < lookback {
		return st
	}

	highs, err := indicators.SwingHighs(s.Highs, window)
	if err != nil {
		return st
	}
	lows, err := indicators.SwingLows(s.Lows, window)
	if err != nil {
		return st
	}
	if len(highs) < 2 || len(lows) < 2 {
		return st
	}

	lastHigh, prevHigh := highs[len(highs)-1], highs[len(highs)-2]
	lastLow, prevLow := lows[len(lows)-1], lows[len(lows)-2]

	st.LastSwingHigh = candles[lastHigh.Index].High
	st.LastSwingLow = candles[lastLow.Index].Low
	st.HigherHigh = lastHigh.Price > prevHigh.Price
	st.HigherLow = lastLow.Price > prevLow.Price
	st.LowerHigh = lastHigh.Price < prevHigh.Price
	st.LowerLow = lastLow.Price < prevLow.Price

	switch {
	case st.HigherHigh && st.HigherLow:
		st.Trend = domain.TrendDirectionBullish
	case st.LowerHigh && st.LowerLow:
		st.Trend = domain.TrendDirectionBearish
	}

	return st
}

func extremes(candles []domain.Candle) (high, low decimal.Decimal) {
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}
	return high, low
}

// MATrend reports whether the series is stacked in the trade direction:
// close above EMA above SMA for longs, the reverse for shorts.
func MATrend(candles []domain.Candle, dir domain.Direction, emaPeriod, smaPeriod int) bool {
	closes := indicators.NewSeries(candles).Closes
	ema, err := indicators.EMA(closes, emaPeriod)
	if err != nil {
		return false
	}
	sma, err := indicators.SMA(closes, smaPeriod)
	if err != nil {
		return false
	}

	lastEMA, _ := indicators.Last(ema)
	lastSMA, _ := indicators.Last(sma)
	lastClose := closes[len(closes)-1]

	if dir == domain.DirectionShort {
		return lastClose < lastEMA && lastEMA < lastSMA
	}
	return lastClose > lastEMA && lastEMA > lastSMA
}
