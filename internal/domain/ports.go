package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketData source of candles and prices.
type MarketData interface {
	// Fetch returns the last count closed candles ordered oldest to newest.
	Fetch(ctx context.Context, asset Pair, tf Timeframe, count int) ([]Candle, error)
	CurrentPrice(ctx context.Context, asset Pair) (decimal.Decimal, error)
}

// BrokerPosition open position as reported by the broker.
type BrokerPosition struct {
	ID         string
	Asset      Pair
	Direction  Direction
	Entry      decimal.Decimal
	Stake      decimal.Decimal
	Multiplier decimal.Decimal
	// Quantity base asset amount held, zero when the venue does not track it.
	Quantity decimal.Decimal
	Stop     decimal.Decimal
	Target   decimal.Decimal
	OpenedAt time.Time
}

// Broker executes orders on a venue.
type Broker interface {
	OpenPosition(ctx context.Context, asset Pair, dir Direction, stake, multiplier decimal.Decimal) (BrokerPosition, error)
	// ClosePosition returns the exit price and realized pnl.
	ClosePosition(ctx context.Context, id string) (Outcome, error)
	QueryOpenPositions(ctx context.Context) ([]BrokerPosition, error)
	CurrentPrice(ctx context.Context, asset Pair) (decimal.Decimal, error)
}

// ProtectionRecorder is implemented by brokers that persist stop and target so
// a recovered position keeps its exits.
type ProtectionRecorder interface {
	RecordProtection(ctx context.Context, id string, stop, target decimal.Decimal) error
}

// Notifier receives outbound events. Implementations must not block.
type Notifier interface {
	Notify(e Event)
}

// History persists completed trades.
type History interface {
	Save(record TradeRecord) error
}

// NopNotifier discards events.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(Event) {}

// ToPosition converts the broker view into a monitored position.
func (b BrokerPosition) ToPosition() Position {
	return Position{
		ID:         b.ID,
		Asset:      b.Asset,
		Direction:  b.Direction,
		Entry:      b.Entry,
		Stake:      b.Stake,
		Multiplier: b.Multiplier,
		Stop:       b.Stop,
		Target:     b.Target,
		OpenedAt:   b.OpenedAt,
		Phase:      PhaseMonitoring,
	}
}
