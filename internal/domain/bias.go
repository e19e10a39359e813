package domain

// Bias combined weekly and daily directional stance.
type Bias struct {
	Direction TrendDirection `json:"direction"`
	Weekly    TrendDirection `json:"weekly"`
	Daily     TrendDirection `json:"daily"`
}

// NewBias combines weekly and daily components. Only agreement on a
// non-neutral trend yields a tradable bias.
func NewBias(weekly, daily TrendDirection) Bias {
	b := Bias{Direction: TrendDirectionNeutral, Weekly: weekly, Daily: daily}
	if weekly == daily && weekly != TrendDirectionNeutral {
		b.Direction = weekly
	}
	return b
}

// Allows reports whether a trade in the given direction agrees with the bias.
func (b Bias) Allows(d Direction) bool {
	allowed, ok := b.Direction.TradeDirection()
	return ok && allowed == d
}
