package lifecycle

import (
	"time"

	"github.com/vadiminshakov/topdown/internal/domain"
)

// Tier trailing stop tier. Both values are percentages of stake.
type Tier struct {
	Name       string
	TriggerPct float64
	TrailPct   float64
}

// FastFail closes early losers opened within a short window.
type FastFail struct {
	LossPct       float64
	DefaultWindow time.Duration
	Regimes       []Regime
}

// Stagnation closes losers that have been open for too long.
type Stagnation struct {
	LossPct float64
	Window  time.Duration
}

// Config exit policy of the lifecycle engine.
type Config struct {
	Mode            domain.RiskMode
	MonitorInterval time.Duration
	// Tiers ascending by TriggerPct.
	Tiers      []Tier
	FastFail   FastFail
	Stagnation Stagnation
	// CancelAfter only used in RiskModeScalpingWithCancel.
	CancelAfter time.Duration
	Location    *time.Location
}

// DefaultTiers Initial Lock, Profit Lock, Big Winner.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Initial Lock", TriggerPct: 8, TrailPct: 4},
		{Name: "Profit Lock", TriggerPct: 15, TrailPct: 6},
		{Name: "Big Winner", TriggerPct: 25, TrailPct: 8},
	}
}

// DefaultConfig returns the shipped exit policy.
func DefaultConfig() Config {
	return Config{
		Mode:            domain.RiskModeTopDown,
		MonitorInterval: 2 * time.Second,
		Tiers:           DefaultTiers(),
		FastFail: FastFail{
			LossPct:       20,
			DefaultWindow: 120 * time.Second,
			Regimes: []Regime{
				{From: 13 * 60, To: 17 * 60, Window: 60 * time.Second},
			},
		},
		Stagnation:  Stagnation{LossPct: 10, Window: 300 * time.Second},
		CancelAfter: 300 * time.Second,
		Location:    time.UTC,
	}
}
