// Package risk implements the process-wide risk governor: signal gating, the
// single-position lock, daily limits, loss cooldowns and startup reconciliation.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"github.com/vadiminshakov/topdown/pkg/retrier"
	"go.uber.org/zap"
)

// Config risk limits.
type Config struct {
	MaxDailyLoss             decimal.Decimal
	MaxTradesPerDay          int
	MaxLossPerTrade          decimal.Decimal
	MaxRiskPerTradePct       float64
	MinRR                    float64
	MinStrength              float64
	Cooldown                 time.Duration
	ConsecutiveLossThreshold int
	// Location defines the calendar day used for daily counters.
	Location *time.Location
}

// PositionSource reports positions that are open on the venue.
type PositionSource interface {
	QueryOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error)
}

// Monitor takes over monitoring of a recovered position.
type Monitor interface {
	Adopt(ctx context.Context, p domain.Position)
}

// Governor owns domain.RiskState. All mutation goes through its methods, which
// are serialized by a single mutex.
type Governor struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	notifier domain.Notifier
	retrier  *retrier.Retrier

	mu    sync.Mutex
	state domain.RiskState
	stats Stats
}

// Option configures the Governor.
type Option func(*Governor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// WithNotifier sets the sink for risk alerts.
func WithNotifier(n domain.Notifier) Option {
	return func(g *Governor) {
		g.notifier = n
	}
}

// WithQueryRetrier sets the retrier used for the startup broker query.
func WithQueryRetrier(r *retrier.Retrier) Option {
	return func(g *Governor) {
		g.retrier = r
	}
}

// NewGovernor creates a governor with an unlocked state.
func NewGovernor(cfg Config, logger *zap.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	g := &Governor{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		notifier: domain.NopNotifier{},
		retrier:  retrier.New(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.state.DailyLoss = decimal.Zero
	g.state.DayBoundary = g.dayStart(g.now())
	return g
}

// Evaluate runs the signal through the gates. On approval the lock is taken and
// the daily trade counter incremented before the mutex is released.
func (g *Governor) Evaluate(s domain.Signal) domain.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollover(now)

	for _, gt := range gates {
		if gt.pass(g, s, now) {
			continue
		}

		metrics.Rejections.WithLabelValues(gt.reason.Label()).Inc()
		g.logger.Info("signal rejected",
			zap.String("pair", s.Asset.String()),
			zap.String("reason", string(gt.reason)),
			zap.String("risk", TradeRisk(s).StringFixed(2)),
			zap.String("rr", s.RiskReward().StringFixed(2)),
			zap.Float64("strength", s.Strength),
		)
		return domain.Reject(gt.reason)
	}

	g.state.Locked = true
	g.state.TradesToday++

	g.logger.Info("signal approved",
		zap.String("pair", s.Asset.String()),
		zap.String("direction", string(s.Direction)),
		zap.Int("trades_today", g.state.TradesToday),
	)
	return domain.Approve(s.Stop, s.Target)
}

// ReportOutcome releases the lock and books the realized pnl. Reaching the
// consecutive loss threshold starts a cooldown.
func (g *Governor) ReportOutcome(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollover(now)

	g.state.Locked = false
	g.state.DailyLoss = g.state.DailyLoss.Add(pnl)
	g.stats.record(pnl)
	metrics.DailyPnL.Set(g.state.DailyLoss.InexactFloat64())

	switch {
	case pnl.IsNegative():
		g.state.ConsecutiveLosses++
	case pnl.IsPositive():
		g.state.ConsecutiveLosses = 0
	}

	g.logger.Info("trade outcome recorded",
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("daily_pnl", g.state.DailyLoss.StringFixed(2)),
		zap.Int("consecutive_losses", g.state.ConsecutiveLosses),
	)

	if g.cfg.ConsecutiveLossThreshold > 0 && g.state.ConsecutiveLosses >= g.cfg.ConsecutiveLossThreshold {
		g.state.CooldownUntil = now.Add(g.cfg.Cooldown)
		losses := g.state.ConsecutiveLosses
		g.state.ConsecutiveLosses = 0

		g.logger.Warn("cooldown started",
			zap.Int("consecutive_losses", losses),
			zap.Time("until", g.state.CooldownUntil),
		)
		g.notifier.Notify(domain.NewEvent(domain.EventRiskAlert, domain.Pair{},
			fmt.Sprintf("%d consecutive losses, trading paused for %s", losses, g.cfg.Cooldown), now).
			With("cooldown_until", g.state.CooldownUntil.Format(time.RFC3339)))
	}

	if g.cfg.MaxDailyLoss.IsPositive() && !g.state.DailyLoss.GreaterThan(g.cfg.MaxDailyLoss.Neg()) {
		g.notifier.Notify(domain.NewEvent(domain.EventRiskAlert, domain.Pair{},
			"daily loss limit reached", now).With("daily_pnl", g.state.DailyLoss.StringFixed(2)))
	}
}

// Abort rolls back an approval whose position never opened.
func (g *Governor) Abort() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.Locked = false
	if g.state.TradesToday > 0 {
		g.state.TradesToday--
	}
}

// Reconcile seeds the lock from the broker before any signal is evaluated. An
// open position is handed to monitor without passing through the open step.
func (g *Governor) Reconcile(ctx context.Context, source PositionSource, monitor Monitor) error {
	positions, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) ([]domain.BrokerPosition, error) {
		return source.QueryOpenPositions(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "query open positions")
	}

	g.mu.Lock()
	g.state.Locked = len(positions) > 0
	g.mu.Unlock()

	if len(positions) == 0 {
		g.logger.Info("no open position found on broker")
		return nil
	}

	if len(positions) > 1 {
		g.Halt(fmt.Sprintf("broker reports %d open positions, expected at most one", len(positions)))
	}

	p := positions[0].ToPosition()
	g.logger.Info("recovered open position",
		zap.String("id", p.ID),
		zap.String("pair", p.Asset.String()),
		zap.String("direction", string(p.Direction)),
		zap.String("entry", p.Entry.String()),
	)
	monitor.Adopt(ctx, p)

	return nil
}

// Halt stops approving signals until ClearHalt.
func (g *Governor) Halt(reason string) {
	g.mu.Lock()
	g.state.Halted = true
	g.state.HaltReason = reason
	g.mu.Unlock()

	g.logger.Error("trading halted", zap.String("reason", reason))
	g.notifier.Notify(domain.NewEvent(domain.EventRiskAlert, domain.Pair{}, "trading halted: "+reason, g.now()))
}

// ClearHalt resumes signal evaluation after operator intervention.
func (g *Governor) ClearHalt() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.Halted = false
	g.state.HaltReason = ""
	g.logger.Info("trading halt cleared")
}

// Halted reports whether trading is halted.
func (g *Governor) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Halted
}

// Locked reports whether a position holds the global lock.
func (g *Governor) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Locked
}

// Snapshot returns state, statistics and remaining capacity.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollover(now)

	snap := Snapshot{State: g.state, Stats: g.stats}
	if g.cfg.MaxTradesPerDay > 0 {
		snap.RemainingTrades = max(g.cfg.MaxTradesPerDay-g.state.TradesToday, 0)
	}
	if g.cfg.MaxDailyLoss.IsPositive() {
		snap.RemainingLoss = decimal.Max(g.cfg.MaxDailyLoss.Add(g.state.DailyLoss), decimal.Zero)
	}
	if g.state.CooldownUntil.After(now) {
		snap.CooldownRemaining = g.state.CooldownUntil.Sub(now)
	}
	return snap
}

// rollover resets the daily counters when the calendar day changes. Caller holds mu.
func (g *Governor) rollover(now time.Time) {
	day := g.dayStart(now)
	if !day.After(g.state.DayBoundary) {
		return
	}

	g.logger.Info("new trading day",
		zap.Time("day", day),
		zap.Int("trades", g.state.TradesToday),
		zap.String("pnl", g.state.DailyLoss.StringFixed(2)),
	)
	g.state.DayBoundary = day
	g.state.TradesToday = 0
	g.state.DailyLoss = decimal.Zero
	g.state.ConsecutiveLosses = 0
	metrics.DailyPnL.Set(0)
}

func (g *Governor) dayStart(t time.Time) time.Time {
	local := t.In(g.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.cfg.Location)
}
