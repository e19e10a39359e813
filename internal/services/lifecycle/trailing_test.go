package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/topdown/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func longPosition() domain.Position {
	return domain.Position{
		ID:         "p1",
		Asset:      domain.Pair{From: "BTC", To: "USDT"},
		Direction:  domain.DirectionLong,
		Entry:      d("100"),
		Stake:      d("10"),
		Multiplier: d("160"),
		Stop:       d("99.95"),
		Target:     d("102"),
		Phase:      domain.PhaseMonitoring,
	}
}

func shortPosition() domain.Position {
	p := longPosition()
	p.Direction = domain.DirectionShort
	p.Stop = d("100.05")
	p.Target = d("98")
	return p
}

func TestSelectTier(t *testing.T) {
	tiers := DefaultTiers()

	tests := []struct {
		profit string
		tier   string
	}{
		{"-5", ""},
		{"7.99", ""},
		{"8", "Initial Lock"},
		{"14.9", "Initial Lock"},
		{"15", "Profit Lock"},
		{"24", "Profit Lock"},
		{"25", "Big Winner"},
		{"300", "Big Winner"},
	}
	for _, tt := range tests {
		t.Run(tt.profit, func(t *testing.T) {
			tier, ok := SelectTier(tiers, d(tt.profit))
			assert.Equal(t, tt.tier != "", ok)
			assert.Equal(t, tt.tier, tier.Name)
		})
	}
}

func TestTrailDistance(t *testing.T) {
	p := longPosition()
	assert.True(t, TrailDistance(p, 4).Equal(d("0.025")))
	assert.True(t, TrailDistance(p, 8).Equal(d("0.05")))

	p.Multiplier = decimal.Zero
	assert.True(t, TrailDistance(p, 4).IsZero())
}

func TestRatchet_InitialLockToBigWinner(t *testing.T) {
	tiers := DefaultTiers()
	p := longPosition()

	price := d("100.05")
	require.True(t, p.ProfitPct(price).Equal(d("8")))
	tier, ok := SelectTier(tiers, p.ProfitPct(price))
	require.True(t, ok)
	require.Equal(t, "Initial Lock", tier.Name)

	stop, moved := Ratchet(p, price, tier)
	require.True(t, moved)
	assert.True(t, stop.Equal(d("100.025")), stop.String())
	p.Stop = stop

	price = d("100.15625")
	require.True(t, p.ProfitPct(price).Equal(d("25")))
	tier, ok = SelectTier(tiers, p.ProfitPct(price))
	require.True(t, ok)
	require.Equal(t, "Big Winner", tier.Name)

	stop, moved = Ratchet(p, price, tier)
	require.True(t, moved)
	assert.True(t, stop.Equal(d("100.10625")), stop.String())
}

func TestRatchet_WiderTierNeverLoosens(t *testing.T) {
	tiers := DefaultTiers()
	p := longPosition()

	price := d("100.15")
	tier, _ := SelectTier(tiers, p.ProfitPct(price))
	require.Equal(t, "Profit Lock", tier.Name)
	stop, moved := Ratchet(p, price, tier)
	require.True(t, moved)
	require.True(t, stop.Equal(d("100.1125")), stop.String())
	p.Stop = stop

	price = d("100.16")
	tier, _ = SelectTier(tiers, p.ProfitPct(price))
	require.Equal(t, "Big Winner", tier.Name)
	stop, moved = Ratchet(p, price, tier)
	assert.False(t, moved)
	assert.True(t, stop.Equal(d("100.1125")))
}

func TestRatchet_Short(t *testing.T) {
	p := shortPosition()
	tier := Tier{Name: "Initial Lock", TriggerPct: 8, TrailPct: 4}

	stop, moved := Ratchet(p, d("99.95"), tier)
	require.True(t, moved)
	assert.True(t, stop.Equal(d("99.975")), stop.String())

	p.Stop = stop
	_, moved = Ratchet(p, d("99.96"), tier)
	assert.False(t, moved, "price moved against the short")
}

func TestRatchet_NoStopSet(t *testing.T) {
	p := longPosition()
	p.Stop = decimal.Zero

	stop, moved := Ratchet(p, d("100.05"), Tier{TrailPct: 4})
	require.True(t, moved)
	assert.True(t, stop.Equal(d("100.025")))
}

func TestRatchet_Monotonic(t *testing.T) {
	prices := []string{"100.05", "100.2", "100.1", "100.3", "100.12", "100.5", "100.45", "100.8", "100.6", "101"}
	tiers := DefaultTiers()

	for _, p := range []domain.Position{longPosition(), shortPosition()} {
		t.Run(string(p.Direction), func(t *testing.T) {
			for _, raw := range prices {
				price := d(raw)
				if p.Direction == domain.DirectionShort {
					price = d("200").Sub(price)
				}

				tier, ok := SelectTier(tiers, p.ProfitPct(price))
				if !ok {
					continue
				}
				stop, moved := Ratchet(p, price, tier)
				if !moved {
					assert.True(t, stop.Equal(p.Stop))
					continue
				}
				assert.True(t, p.Direction.Favorable(p.Stop, stop), "stop %s -> %s", p.Stop, stop)
				p.Stop = stop
			}
		})
	}
}
