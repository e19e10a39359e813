package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal trade opportunity produced by the structure analyzer.
type Signal struct {
	Asset       Pair
	Direction   Direction
	Entry       decimal.Decimal
	Stop        decimal.Decimal
	Target      decimal.Decimal
	Strength    float64
	GeneratedAt time.Time
	Stake       decimal.Decimal
	Multiplier  decimal.Decimal
	Bias        Bias
	// Level the retested level the signal is built on.
	Level decimal.Decimal
}

// RiskReward returns reward divided by risk. Zero when risk is zero.
func (s Signal) RiskReward() decimal.Decimal {
	risk := s.Entry.Sub(s.Stop).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return s.Target.Sub(s.Entry).Abs().Div(risk)
}

// StopDistanceFraction returns |entry-stop|/entry.
func (s Signal) StopDistanceFraction() decimal.Decimal {
	if s.Entry.IsZero() {
		return decimal.Zero
	}
	return s.Entry.Sub(s.Stop).Abs().Div(s.Entry)
}
