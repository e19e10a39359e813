package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RiskState mutable state of the risk governor.
type RiskState struct {
	Locked            bool            `json:"locked"`
	DailyLoss         decimal.Decimal `json:"daily_loss"`
	TradesToday       int             `json:"trades_today"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	CooldownUntil     time.Time       `json:"cooldown_until"`
	DayBoundary       time.Time       `json:"day_boundary"`
	Halted            bool            `json:"halted"`
	HaltReason        string          `json:"halt_reason,omitempty"`
}

// RejectReason why a signal was not approved.
type RejectReason string

const (
	RejectHalted         RejectReason = "trading halted"
	RejectPositionLocked RejectReason = "position locked"
	RejectCoolingDown    RejectReason = "cooling down"
	RejectFrequencyCap   RejectReason = "frequency cap"
	RejectDailyLossLimit RejectReason = "daily loss limit"
	RejectRiskTooHigh    RejectReason = "risk too high"
	RejectInsufficientRR RejectReason = "insufficient R:R"
	RejectWeakSignal     RejectReason = "weak signal"
)

// Label returns the reason in a form usable as a metric label.
func (r RejectReason) Label() string {
	s := strings.ToLower(string(r))
	s = strings.ReplaceAll(s, ":", "")
	return strings.ReplaceAll(s, " ", "_")
}

// Decision result of a risk evaluation. Approved decisions carry the stop and target to trade with.
type Decision struct {
	Approved bool
	Reason   RejectReason
	Stop     decimal.Decimal
	Target   decimal.Decimal
}

// Approve approved decision.
func Approve(stop, target decimal.Decimal) Decision {
	return Decision{Approved: true, Stop: stop, Target: target}
}

// Reject rejected decision with reason.
func Reject(reason RejectReason) Decision {
	return Decision{Reason: reason}
}

// RiskMode exit policy mode.
type RiskMode string

const (
	// RiskModeTopDown trailing stop enabled, no time-based cancel.
	RiskModeTopDown RiskMode = "TOP_DOWN"
	// RiskModeScalpingWithCancel adds a timeout exit for positions that never go green.
	RiskModeScalpingWithCancel RiskMode = "SCALPING_WITH_CANCEL"
	// RiskModeLegacy plain stop and target, no trailing.
	RiskModeLegacy RiskMode = "LEGACY"
)

// IsValid checks if the RiskMode value is supported.
func (m RiskMode) IsValid() bool {
	switch m {
	case RiskModeTopDown, RiskModeScalpingWithCancel, RiskModeLegacy:
		return true
	default:
		return false
	}
}

// TrailingEnabled reports whether the trailing stop is active in this mode.
func (m RiskMode) TrailingEnabled() bool {
	return m != RiskModeLegacy
}
