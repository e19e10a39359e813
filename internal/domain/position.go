package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase lifecycle phase of a position.
type Phase string

const (
	PhaseOpening    Phase = "opening"
	PhaseMonitoring Phase = "monitoring"
	PhaseClosing    Phase = "closing"
	PhaseClosed     Phase = "closed"
)

var hundred = decimal.NewFromInt(100)

// Position open leveraged position.
type Position struct {
	ID         string          `json:"id"`
	Asset      Pair            `json:"asset"`
	Direction  Direction       `json:"direction"`
	Entry      decimal.Decimal `json:"entry"`
	Stake      decimal.Decimal `json:"stake"`
	Multiplier decimal.Decimal `json:"multiplier"`
	// Stop zero means no stop is set.
	Stop decimal.Decimal `json:"stop"`
	// Target zero means no target is set.
	Target    decimal.Decimal `json:"target"`
	OpenedAt  time.Time       `json:"opened_at"`
	Phase     Phase           `json:"phase"`
	TrailTier string          `json:"trail_tier,omitempty"`
}

// Notional stake times multiplier.
func (p Position) Notional() decimal.Decimal {
	return p.Stake.Mul(p.Multiplier)
}

// UnrealizedPnL returns profit or loss at the given price in quote currency.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Entry.IsZero() {
		return decimal.Zero
	}
	return p.Notional().Mul(price.Sub(p.Entry)).Div(p.Entry).Mul(p.Direction.Sign())
}

// ProfitPct returns unrealized pnl as a percentage of stake.
func (p Position) ProfitPct(price decimal.Decimal) decimal.Decimal {
	if p.Stake.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL(price).Div(p.Stake).Mul(hundred)
}

// Outcome realized result of a closed position.
type Outcome struct {
	PositionID string
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	ClosedAt   time.Time
}

// ExitReason why a position was closed.
type ExitReason string

const (
	ExitTarget     ExitReason = "target"
	ExitStop       ExitReason = "stop"
	ExitFastFail   ExitReason = "fast_fail"
	ExitStagnation ExitReason = "stagnation"
	ExitTimeout    ExitReason = "timeout"
	ExitManual     ExitReason = "manual"
)

// TradeRecord persisted summary of a completed trade.
type TradeRecord struct {
	PositionID string          `json:"position_id"`
	Asset      string          `json:"asset"`
	Direction  Direction       `json:"direction"`
	Entry      decimal.Decimal `json:"entry"`
	Exit       decimal.Decimal `json:"exit"`
	Stake      decimal.Decimal `json:"stake"`
	Multiplier decimal.Decimal `json:"multiplier"`
	PnL        decimal.Decimal `json:"pnl"`
	// Stop the stop in force when the position closed.
	Stop      decimal.Decimal `json:"stop"`
	Reason    ExitReason      `json:"reason"`
	TrailTier string          `json:"trail_tier,omitempty"`
	OpenedAt  time.Time       `json:"opened_at"`
	ClosedAt  time.Time       `json:"closed_at"`
}

// NewTradeRecord builds a record from a position and its outcome.
func NewTradeRecord(p Position, o Outcome, reason ExitReason) TradeRecord {
	return TradeRecord{
		PositionID: p.ID,
		Asset:      p.Asset.String(),
		Direction:  p.Direction,
		Entry:      p.Entry,
		Exit:       o.ExitPrice,
		Stake:      p.Stake,
		Multiplier: p.Multiplier,
		PnL:        o.PnL,
		Stop:       p.Stop,
		Reason:     reason,
		TrailTier:  p.TrailTier,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   o.ClosedAt,
	}
}
