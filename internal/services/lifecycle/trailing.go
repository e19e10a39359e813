package lifecycle

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SelectTier returns the last tier whose trigger is met by profitPct.
func SelectTier(tiers []Tier, profitPct decimal.Decimal) (Tier, bool) {
	var (
		selected Tier
		found    bool
	)
	for _, t := range tiers {
		if profitPct.LessThan(decimal.NewFromFloat(t.TriggerPct)) {
			break
		}
		selected, found = t, true
	}
	return selected, found
}

// TrailDistance price distance that puts trailPct of stake at risk:
// stake × trail / 100 × entry / (multiplier × stake).
func TrailDistance(p domain.Position, trailPct float64) decimal.Decimal {
	if p.Multiplier.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(trailPct).Div(hundred).Mul(p.Entry).Div(p.Multiplier)
}

// Ratchet returns the stop for tier at price when it tightens the current stop.
// A stop never loosens and never moves against the position.
func Ratchet(p domain.Position, price decimal.Decimal, tier Tier) (decimal.Decimal, bool) {
	distance := TrailDistance(p, tier.TrailPct)
	if !distance.IsPositive() {
		return p.Stop, false
	}

	candidate := price.Sub(distance.Mul(p.Direction.Sign()))
	if p.Stop.IsZero() || p.Direction.Favorable(p.Stop, candidate) {
		return candidate, true
	}
	return p.Stop, false
}
