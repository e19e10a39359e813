// Package indicators provides technical analysis indicators (SMA, EMA, RSI, ATR, ADX) and swing detection.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// ErrInsufficientData returned when the input is shorter than the indicator needs.
var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, need, got int) error {
	return errors.Wrapf(ErrInsufficientData, "%s: need %d, got %d", name, need, got)
}

// Series float64 OHLC columns extracted from candles.
type Series struct {
	Highs  []float64
	Lows   []float64
	Closes []float64
}

// NewSeries converts candles to float columns.
func NewSeries(candles []domain.Candle) Series {
	s := Series{
		Highs:  make([]float64, len(candles)),
		Lows:   make([]float64, len(candles)),
		Closes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Highs[i] = c.High.InexactFloat64()
		s.Lows[i] = c.Low.InexactFloat64()
		s.Closes[i] = c.Close.InexactFloat64()
	}
	return s
}

// Len number of bars.
func (s Series) Len() int {
	return len(s.Closes)
}

// SMA simple moving average. The last value corresponds to the last input.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, insufficient("SMA", period, len(values))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	if len(out) == 0 {
		return nil, insufficient("SMA", period, len(values))
	}

	return out, nil
}

// EMA exponential moving average. The last value corresponds to the last input.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, insufficient("EMA", period, len(values))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(values)))
	if len(out) == 0 {
		return nil, insufficient("EMA", period, len(values))
	}

	return out, nil
}

// RSI relative strength index in [0, 100].
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period+1 {
		return nil, insufficient("RSI", period+1, len(values))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(values)))
	if len(out) == 0 {
		return nil, insufficient("RSI", period+1, len(values))
	}

	return out, nil
}

// ATR average true range.
func ATR(s Series, period int) ([]float64, error) {
	if period <= 0 || s.Len() < period+1 {
		return nil, insufficient("ATR", period+1, s.Len())
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	out := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(s.Highs),
		helper.SliceToChan(s.Lows),
		helper.SliceToChan(s.Closes),
	))
	if len(out) == 0 {
		return nil, insufficient("ATR", period+1, s.Len())
	}

	return out, nil
}

// ADX average directional index using Wilder smoothing. Needs at least 2*period bars.
func ADX(s Series, period int) ([]float64, error) {
	n := s.Len()
	if period <= 0 || n < 2*period {
		return nil, insufficient("ADX", 2*period, n)
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := s.Highs[i] - s.Highs[i-1]
		down := s.Lows[i-1] - s.Lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = math.Max(s.Highs[i]-s.Lows[i],
			math.Max(math.Abs(s.Highs[i]-s.Closes[i-1]), math.Abs(s.Lows[i]-s.Closes[i-1])))
	}

	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	p := float64(period)
	dx := make([]float64, 0, n-period)
	dx = append(dx, directionalIndex(smTR, smPlus, smMinus))
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/p + tr[i]
		smPlus = smPlus - smPlus/p + plusDM[i]
		smMinus = smMinus - smMinus/p + minusDM[i]
		dx = append(dx, directionalIndex(smTR, smPlus, smMinus))
	}

	var first float64
	for _, v := range dx[:period] {
		first += v
	}

	adx := make([]float64, 0, len(dx)-period+1)
	adx = append(adx, first/p)
	for _, v := range dx[period:] {
		prev := adx[len(adx)-1]
		adx = append(adx, (prev*(p-1)+v)/p)
	}

	return adx, nil
}

func directionalIndex(tr, plusDM, minusDM float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// Last returns the final value of a series.
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
