package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LevelKind classification of a price level.
type LevelKind string

const (
	// LevelUntested broken major level that price has not come back to.
	LevelUntested LevelKind = "untested"
	// LevelTested major level that has been revisited after the break.
	LevelTested LevelKind = "tested"
	// LevelMinor short-term level from lower timeframes.
	LevelMinor LevelKind = "minor"
)

// Major reports whether the kind belongs to a higher-timeframe level.
func (k LevelKind) Major() bool {
	return k == LevelUntested || k == LevelTested
}

// Level price level tracked for an asset.
type Level struct {
	Price     decimal.Decimal
	Kind      LevelKind
	Origin    Timeframe
	FirstSeen time.Time
	// BrokenAt close time of the candle that crossed the level, zero if never broken.
	BrokenAt time.Time
}

// MarkTested flips an untested level to tested. Tested and minor levels are left as is.
func (l *Level) MarkTested() {
	if l.Kind == LevelUntested {
		l.Kind = LevelTested
	}
}

// Within reports whether price lies within tolerancePct percent of the level.
func (l Level) Within(price decimal.Decimal, tolerancePct decimal.Decimal) bool {
	if l.Price.IsZero() {
		return false
	}
	band := l.Price.Mul(tolerancePct).Div(decimal.NewFromInt(100))
	return price.Sub(l.Price).Abs().LessThanOrEqual(band)
}
