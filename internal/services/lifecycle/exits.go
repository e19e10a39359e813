package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// ExitInput state of a monitored position at one tick.
type ExitInput struct {
	Position       domain.Position
	Price          decimal.Decimal
	Elapsed        time.Duration
	FastFailWindow time.Duration
}

// EvaluateExit applies the close rules in priority order: fast fail, stagnation,
// target, stop and the scalping timeout. Trailing is not an exit and is
// applied by the engine between the stop check and the timeout.
func EvaluateExit(cfg Config, in ExitInput) (domain.ExitReason, bool) {
	p := in.Position
	pnl := p.UnrealizedPnL(in.Price)

	if lossBeyond(pnl, p.Stake, cfg.FastFail.LossPct) && in.Elapsed < in.FastFailWindow {
		return domain.ExitFastFail, true
	}

	if lossBeyond(pnl, p.Stake, cfg.Stagnation.LossPct) && in.Elapsed >= cfg.Stagnation.Window {
		return domain.ExitStagnation, true
	}

	if reason, ok := touched(p, in.Price); ok {
		return reason, true
	}

	if timedOut(cfg, pnl, in.Elapsed) {
		return domain.ExitTimeout, true
	}

	return "", false
}

func touched(p domain.Position, price decimal.Decimal) (domain.ExitReason, bool) {
	switch p.Direction {
	case domain.DirectionLong:
		if !p.Target.IsZero() && price.GreaterThanOrEqual(p.Target) {
			return domain.ExitTarget, true
		}
		if !p.Stop.IsZero() && price.LessThanOrEqual(p.Stop) {
			return domain.ExitStop, true
		}
	case domain.DirectionShort:
		if !p.Target.IsZero() && price.LessThanOrEqual(p.Target) {
			return domain.ExitTarget, true
		}
		if !p.Stop.IsZero() && price.GreaterThanOrEqual(p.Stop) {
			return domain.ExitStop, true
		}
	}
	return "", false
}

func timedOut(cfg Config, pnl decimal.Decimal, elapsed time.Duration) bool {
	if cfg.Mode != domain.RiskModeScalpingWithCancel || cfg.CancelAfter <= 0 {
		return false
	}
	return elapsed >= cfg.CancelAfter && !pnl.IsPositive()
}

// lossBeyond reports pnl < -(stake × pct / 100). A non-positive pct disables the rule.
func lossBeyond(pnl, stake decimal.Decimal, pct float64) bool {
	if pct <= 0 {
		return false
	}
	limit := stake.Mul(decimal.NewFromFloat(pct)).Div(hundred)
	return pnl.LessThan(limit.Neg())
}
