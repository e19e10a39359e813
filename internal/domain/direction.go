package domain

import "github.com/shopspring/decimal"

// Direction side of a trade.
type Direction string

const (
	// DirectionLong profits when price rises.
	DirectionLong Direction = "long"
	// DirectionShort profits when price falls.
	DirectionShort Direction = "short"
)

// IsValid checks if the Direction value is valid.
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns 1 for long and -1 for short.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Favorable reports whether moving from "from" to "to" benefits the direction.
func (d Direction) Favorable(from, to decimal.Decimal) bool {
	if d == DirectionShort {
		return to.LessThan(from)
	}
	return to.GreaterThan(from)
}

// TrendDirection qualitative direction of price action.
type TrendDirection string

const (
	TrendDirectionBullish TrendDirection = "bullish"
	TrendDirectionBearish TrendDirection = "bearish"
	TrendDirectionNeutral TrendDirection = "neutral"
)

// Title returns a human-readable representation.
func (t TrendDirection) Title() string {
	switch t {
	case TrendDirectionBullish:
		return "Bullish"
	case TrendDirectionBearish:
		return "Bearish"
	default:
		return "Neutral"
	}
}

// TradeDirection maps a trend onto the trade side it permits.
func (t TrendDirection) TradeDirection() (Direction, bool) {
	switch t {
	case TrendDirectionBullish:
		return DirectionLong, true
	case TrendDirectionBearish:
		return DirectionShort, true
	default:
		return "", false
	}
}
