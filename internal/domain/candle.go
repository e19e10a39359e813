package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe candle interval.
type Timeframe string

const (
	Timeframe1w Timeframe = "1w"
	Timeframe1d Timeframe = "1d"
	Timeframe4h Timeframe = "4h"
	Timeframe1h Timeframe = "1h"
	Timeframe5m Timeframe = "5m"
	Timeframe1m Timeframe = "1m"
)

// AllTimeframes lists supported timeframes from the highest to the lowest.
var AllTimeframes = []Timeframe{
	Timeframe1w, Timeframe1d, Timeframe4h, Timeframe1h, Timeframe5m, Timeframe1m,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.IsValid() {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// IsValid checks if the Timeframe value is supported.
func (t Timeframe) IsValid() bool {
	for _, tf := range AllTimeframes {
		if tf == t {
			return true
		}
	}
	return false
}

// Duration returns the length of one candle.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1w:
		return 7 * 24 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1h:
		return time.Hour
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe1m:
		return time.Minute
	default:
		return 0
	}
}

// String returns the string representation.
func (t Timeframe) String() string {
	return string(t)
}

// Candle single OHLCV candlestick. Immutable once closed.
type Candle struct {
	Timeframe Timeframe       `json:"timeframe,omitempty"`
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// Frames candle sequences of one asset keyed by timeframe, each ordered oldest to newest.
type Frames map[Timeframe][]Candle

// Latest returns the newest candle of the timeframe.
func (f Frames) Latest(tf Timeframe) (Candle, bool) {
	candles := f[tf]
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}

// Has reports whether the timeframe has at least one candle.
func (f Frames) Has(tf Timeframe) bool {
	return len(f[tf]) > 0
}
