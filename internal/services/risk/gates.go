package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// gate named predicate; pass returns false to reject with reason.
type gate struct {
	reason domain.RejectReason
	pass   func(g *Governor, s domain.Signal, now time.Time) bool
}

// gates in evaluation order, the first failing gate decides.
var gates = []gate{
	{domain.RejectHalted, func(g *Governor, _ domain.Signal, _ time.Time) bool {
		return !g.state.Halted
	}},
	{domain.RejectPositionLocked, func(g *Governor, _ domain.Signal, _ time.Time) bool {
		return !g.state.Locked
	}},
	{domain.RejectCoolingDown, func(g *Governor, _ domain.Signal, now time.Time) bool {
		return g.state.CooldownUntil.IsZero() || !now.Before(g.state.CooldownUntil)
	}},
	{domain.RejectFrequencyCap, func(g *Governor, _ domain.Signal, _ time.Time) bool {
		return g.cfg.MaxTradesPerDay <= 0 || g.state.TradesToday < g.cfg.MaxTradesPerDay
	}},
	{domain.RejectDailyLossLimit, func(g *Governor, _ domain.Signal, _ time.Time) bool {
		return !g.cfg.MaxDailyLoss.IsPositive() || g.state.DailyLoss.GreaterThan(g.cfg.MaxDailyLoss.Neg())
	}},
	{domain.RejectRiskTooHigh, func(g *Governor, s domain.Signal, _ time.Time) bool {
		risk := TradeRisk(s)
		limit := s.Stake.Mul(decimal.NewFromFloat(g.cfg.MaxRiskPerTradePct)).Div(hundred)
		if risk.GreaterThan(limit) {
			return false
		}
		return !g.cfg.MaxLossPerTrade.IsPositive() || risk.LessThanOrEqual(g.cfg.MaxLossPerTrade)
	}},
	{domain.RejectInsufficientRR, func(g *Governor, s domain.Signal, _ time.Time) bool {
		return !s.RiskReward().LessThan(decimal.NewFromFloat(g.cfg.MinRR))
	}},
	{domain.RejectWeakSignal, func(g *Governor, s domain.Signal, _ time.Time) bool {
		return s.Strength >= g.cfg.MinStrength
	}},
}

// TradeRisk money lost if the stop is hit: stop distance × multiplier × stake / entry.
func TradeRisk(s domain.Signal) decimal.Decimal {
	if s.Entry.IsZero() {
		return decimal.Zero
	}
	return s.Entry.Sub(s.Stop).Abs().Mul(s.Multiplier).Mul(s.Stake).Div(s.Entry)
}
