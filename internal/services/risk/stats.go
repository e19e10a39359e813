package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// Stats running trade statistics since process start.
type Stats struct {
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	LargestWin  decimal.Decimal `json:"largest_win"`
	LargestLoss decimal.Decimal `json:"largest_loss"`
	PeakPnL     decimal.Decimal `json:"peak_pnl"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
}

func (s *Stats) record(pnl decimal.Decimal) {
	switch {
	case pnl.IsPositive():
		s.Wins++
		if pnl.GreaterThan(s.LargestWin) {
			s.LargestWin = pnl
		}
	case pnl.IsNegative():
		s.Losses++
		if pnl.LessThan(s.LargestLoss) {
			s.LargestLoss = pnl
		}
	}

	s.TotalPnL = s.TotalPnL.Add(pnl)
	if s.TotalPnL.GreaterThan(s.PeakPnL) {
		s.PeakPnL = s.TotalPnL
	}
	if dd := s.PeakPnL.Sub(s.TotalPnL); dd.GreaterThan(s.MaxDrawdown) {
		s.MaxDrawdown = dd
	}
}

// WinRate percentage of profitable trades.
func (s Stats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total) * 100
}

// Snapshot point-in-time view of the governor.
type Snapshot struct {
	State             domain.RiskState `json:"state"`
	Stats             Stats            `json:"stats"`
	RemainingTrades   int              `json:"remaining_trades"`
	RemainingLoss     decimal.Decimal  `json:"remaining_loss"`
	CooldownRemaining time.Duration    `json:"cooldown_remaining"`
}
