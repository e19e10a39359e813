// Package lifecycle drives a single position from order placement to close:
// price monitoring, exit rules, the trailing stop ratchet and close retries.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"github.com/vadiminshakov/topdown/pkg/retrier"
	"go.uber.org/zap"
)

// ErrPositionActive another position is still monitored.
var ErrPositionActive = errors.New("position already active")

// RiskReporter receives lifecycle results. Implemented by risk.Governor.
type RiskReporter interface {
	ReportOutcome(pnl decimal.Decimal)
	Abort()
	Halt(reason string)
}

type tracked struct {
	pos    domain.Position
	window time.Duration
	cancel context.CancelFunc
}

// Engine owns the open position and its monitor goroutine.
type Engine struct {
	cfg          Config
	broker       domain.Broker
	risk         RiskReporter
	history      domain.History
	notifier     domain.Notifier
	logger       *zap.Logger
	now          func() time.Time
	openRetrier  *retrier.Retrier
	closeRetrier *retrier.Retrier

	mu     sync.Mutex
	active *tracked
	wg     sync.WaitGroup
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithNotifier sets the event sink.
func WithNotifier(n domain.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithHistory sets the closed trade store.
func WithHistory(h domain.History) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithOpenRetrier sets the retrier for order placement.
func WithOpenRetrier(r *retrier.Retrier) Option {
	return func(e *Engine) {
		e.openRetrier = r
	}
}

// WithCloseRetrier sets the retrier for closing. Exhausting it halts trading.
func WithCloseRetrier(r *retrier.Retrier) Option {
	return func(e *Engine) {
		e.closeRetrier = r
	}
}

type discardHistory struct{}

func (discardHistory) Save(domain.TradeRecord) error { return nil }

// OpenRetryable only transient broker errors are retried on open.
func OpenRetryable(err error) bool {
	return errors.Is(err, domain.ErrBrokerTransient)
}

// CloseRetryable everything except a definite broker answer is retried on close.
func CloseRetryable(err error) bool {
	return !errors.Is(err, domain.ErrPositionNotFound) && !errors.Is(err, domain.ErrOrderRejected)
}

// NewEngine creates an engine with no active position.
func NewEngine(cfg Config, broker domain.Broker, risk RiskReporter, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultConfig().MonitorInterval
	}

	e := &Engine{
		cfg:          cfg,
		broker:       broker,
		risk:         risk,
		history:      discardHistory{},
		notifier:     domain.NopNotifier{},
		logger:       logger,
		now:          time.Now,
		openRetrier:  retrier.New(retrier.WithMaxRetries(3), retrier.WithRetryIf(OpenRetryable)),
		closeRetrier: retrier.New(retrier.WithRetryIf(CloseRetryable)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open places the order for an approved signal and starts monitoring. On
// failure the governor approval is rolled back.
func (e *Engine) Open(ctx context.Context, s domain.Signal, d domain.Decision) error {
	logger := e.logger.With(zap.String("pair", s.Asset.String()), zap.String("direction", string(s.Direction)))

	e.mu.Lock()
	busy := e.active != nil
	e.mu.Unlock()
	if busy {
		e.risk.Abort()
		return ErrPositionActive
	}

	logger.Info("opening position",
		zap.String("stake", s.Stake.String()),
		zap.String("multiplier", s.Multiplier.String()),
		zap.String("entry", s.Entry.String()),
	)

	bp, err := retrier.DoWithData(e.openRetrier, ctx, func(ctx context.Context) (domain.BrokerPosition, error) {
		return e.broker.OpenPosition(ctx, s.Asset, s.Direction, s.Stake, s.Multiplier)
	})
	if err != nil {
		e.risk.Abort()
		logger.Warn("open failed, approval rolled back", zap.Error(err))
		e.notifier.Notify(domain.NewEvent(domain.EventRiskAlert, s.Asset, "open failed: "+err.Error(), e.now()))
		return errors.Wrap(err, "open position")
	}

	pos := bp.ToPosition()
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = e.now()
	}
	pos.Stop = firstNonZero(d.Stop, s.Stop)
	pos.Target = firstNonZero(d.Target, s.Target)

	e.recordProtection(ctx, pos)
	window := e.track(ctx, pos)

	logger.Info("position opened",
		zap.String("id", pos.ID),
		zap.String("entry", pos.Entry.String()),
		zap.String("stop", pos.Stop.String()),
		zap.String("target", pos.Target.String()),
		zap.Duration("fast_fail_window", window),
	)
	e.notifier.Notify(domain.NewEvent(domain.EventPositionOpened, pos.Asset, "position opened", e.now()).
		With("id", pos.ID).
		With("direction", string(pos.Direction)).
		With("entry", pos.Entry.String()).
		With("stop", pos.Stop.String()).
		With("target", pos.Target.String()))

	return nil
}

// Adopt monitors a position recovered from the broker without placing an order.
func (e *Engine) Adopt(ctx context.Context, p domain.Position) {
	p.Phase = domain.PhaseMonitoring
	if p.OpenedAt.IsZero() {
		p.OpenedAt = e.now()
	}
	window := e.track(ctx, p)

	e.logger.Info("monitoring recovered position",
		zap.String("id", p.ID),
		zap.String("pair", p.Asset.String()),
		zap.String("stop", p.Stop.String()),
		zap.String("target", p.Target.String()),
		zap.Duration("fast_fail_window", window),
	)
}

// Active returns a copy of the current position.
func (e *Engine) Active() (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return domain.Position{}, false
	}
	return e.active.pos, true
}

// Discard stops monitoring and forgets the current position. Used after an
// operator resolved a failed close on the venue.
func (e *Engine) Discard() {
	e.mu.Lock()
	t := e.active
	e.active = nil
	e.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	e.logger.Warn("position discarded", zap.String("id", t.pos.ID), zap.String("phase", string(t.pos.Phase)))
}

// Wait blocks until the monitor goroutine exits.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) track(ctx context.Context, p domain.Position) time.Duration {
	mctx, cancel := context.WithCancel(ctx)
	t := &tracked{
		pos:    p,
		window: FastFailWindow(e.cfg.FastFail, p.OpenedAt, e.cfg.Location),
		cancel: cancel,
	}

	e.mu.Lock()
	e.active = t
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.monitor(mctx, t)
	}()

	return t.window
}

func (e *Engine) monitor(ctx context.Context, t *tracked) {
	logger := e.logger.With(zap.String("id", t.pos.ID), zap.String("pair", t.pos.Asset.String()))
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		price, err := e.broker.CurrentPrice(ctx, t.pos.Asset)
		if err != nil {
			logger.Warn("failed to get price", zap.Error(err))
			continue
		}

		reason, exit, moved := e.step(t, price)
		if exit {
			e.close(ctx, t, reason, price)
			return
		}
		if moved {
			e.mu.Lock()
			pos := t.pos
			e.mu.Unlock()
			e.recordProtection(ctx, pos)
		}
	}
}

// step evaluates one tick. Exits take priority; otherwise the trailing stop
// is ratcheted when enabled.
func (e *Engine) step(t *tracked, price decimal.Decimal) (domain.ExitReason, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in := ExitInput{
		Position:       t.pos,
		Price:          price,
		Elapsed:        e.now().Sub(t.pos.OpenedAt),
		FastFailWindow: t.window,
	}
	if reason, ok := EvaluateExit(e.cfg, in); ok {
		return reason, true, false
	}

	if !e.cfg.Mode.TrailingEnabled() {
		return "", false, false
	}
	return "", false, e.trail(t, price)
}

// trail caller holds mu.
func (e *Engine) trail(t *tracked, price decimal.Decimal) bool {
	tier, ok := SelectTier(e.cfg.Tiers, t.pos.ProfitPct(price))
	if !ok {
		return false
	}

	if t.pos.TrailTier != tier.Name {
		t.pos.TrailTier = tier.Name
		e.logger.Info("trailing tier active",
			zap.String("id", t.pos.ID),
			zap.String("tier", tier.Name),
			zap.String("price", price.String()),
		)
	}

	stop, moved := Ratchet(t.pos, price, tier)
	if !moved {
		return false
	}

	e.logger.Info("stop ratcheted",
		zap.String("id", t.pos.ID),
		zap.String("tier", tier.Name),
		zap.String("from", t.pos.Stop.String()),
		zap.String("to", stop.String()),
	)
	t.pos.Stop = stop
	return true
}

func (e *Engine) close(ctx context.Context, t *tracked, reason domain.ExitReason, price decimal.Decimal) {
	e.mu.Lock()
	t.pos.Phase = domain.PhaseClosing
	pos := t.pos
	e.mu.Unlock()

	logger := e.logger.With(zap.String("id", pos.ID), zap.String("pair", pos.Asset.String()))
	logger.Info("closing position",
		zap.String("reason", string(reason)),
		zap.String("price", price.String()),
		zap.String("pnl", pos.UnrealizedPnL(price).StringFixed(2)),
	)

	outcome, err := retrier.DoWithData(e.closeRetrier, ctx, func(ctx context.Context) (domain.Outcome, error) {
		return e.broker.ClosePosition(ctx, pos.ID)
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("shutdown while closing, position left for reconciliation", zap.Error(err))
			return
		}
		e.fatal(pos, reason, err)
		return
	}
	if outcome.ClosedAt.IsZero() {
		outcome.ClosedAt = e.now()
	}

	e.mu.Lock()
	t.pos.Phase = domain.PhaseClosed
	pos = t.pos
	if e.active == t {
		e.active = nil
	}
	e.mu.Unlock()

	e.risk.ReportOutcome(outcome.PnL)
	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()

	if err := e.history.Save(domain.NewTradeRecord(pos, outcome, reason)); err != nil {
		logger.Error("failed to save trade record", zap.Error(err))
	}

	logger.Info("position closed",
		zap.String("reason", string(reason)),
		zap.String("exit", outcome.ExitPrice.String()),
		zap.String("pnl", outcome.PnL.StringFixed(2)),
		zap.String("tier", pos.TrailTier),
	)
	e.notifier.Notify(domain.NewEvent(domain.EventPositionClosed, pos.Asset, "position closed", outcome.ClosedAt).
		With("id", pos.ID).
		With("reason", string(reason)).
		With("exit", outcome.ExitPrice.String()).
		With("pnl", outcome.PnL.StringFixed(2)))
}

// fatal keeps the position in closing and the lock held until an operator
// clears the halt.
func (e *Engine) fatal(pos domain.Position, reason domain.ExitReason, err error) {
	ferr := fmt.Errorf("%w: close %s (%s): %v", domain.ErrBrokerFatal, pos.ID, reason, err)
	e.logger.Error("close failed, operator intervention required",
		zap.String("id", pos.ID),
		zap.String("pair", pos.Asset.String()),
		zap.Error(ferr),
	)
	e.notifier.Notify(domain.NewEvent(domain.EventRiskAlert, pos.Asset, ferr.Error(), e.now()).With("id", pos.ID))
	e.risk.Halt(ferr.Error())
}

func (e *Engine) recordProtection(ctx context.Context, p domain.Position) {
	rec, ok := e.broker.(domain.ProtectionRecorder)
	if !ok {
		return
	}
	if err := rec.RecordProtection(ctx, p.ID, p.Stop, p.Target); err != nil {
		e.logger.Warn("failed to record stop and target", zap.String("id", p.ID), zap.Error(err))
	}
}

func firstNonZero(values ...decimal.Decimal) decimal.Decimal {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}
