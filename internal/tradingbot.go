package internal

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"github.com/vadiminshakov/topdown/internal/services/lifecycle"
	"github.com/vadiminshakov/topdown/internal/services/risk"
	"github.com/vadiminshakov/topdown/internal/services/structure"
	"go.uber.org/zap"
)

// ErrNotHalted is returned by ResumeTrading when there is no halt to clear.
var ErrNotHalted = errors.New("trading is not halted")

// FrameSource serves the candle sequences of every configured timeframe.
type FrameSource interface {
	FetchFrames(ctx context.Context, asset domain.Pair, counts map[domain.Timeframe]int) (domain.Frames, error)
}

type Analyzer interface {
	Analyze(asset structure.AssetParams, frames domain.Frames) (structure.Analysis, error)
}

type Governor interface {
	Evaluate(s domain.Signal) domain.Decision
	Reconcile(ctx context.Context, source risk.PositionSource, monitor risk.Monitor) error
	ClearHalt()
	Halted() bool
	Locked() bool
	Snapshot() risk.Snapshot
}

type Lifecycle interface {
	Open(ctx context.Context, s domain.Signal, d domain.Decision) error
	Adopt(ctx context.Context, p domain.Position)
	Active() (domain.Position, bool)
	Discard()
	Wait()
}

// Status point-in-time view of the bot served by the ops server.
type Status struct {
	Risk     risk.Snapshot          `json:"risk"`
	Position *domain.Position       `json:"position,omitempty"`
	Assets   []string               `json:"assets"`
	Biases   map[string]domain.Bias `json:"biases"`
	LastScan time.Time              `json:"last_scan"`
}

// Components everything the scan loop drives.
type Components struct {
	Assets   []structure.AssetParams
	Candles  map[domain.Timeframe]int
	Interval time.Duration
	Market   FrameSource
	Analyzer Analyzer
	Governor Governor
	Engine   Lifecycle
	Broker   domain.Broker
	Notifier domain.Notifier
	// Advance moves a replay cursor after every scan. Nil for live data.
	Advance func(time.Duration)
	Step    time.Duration
	Now     func() time.Time
}

// TradingBot the scan loop: data, analysis, risk gate, execution.
type TradingBot struct {
	Components
	logger *zap.Logger

	mu       sync.RWMutex
	lastScan time.Time
	biases   map[string]domain.Bias
	// runCtx outlives operator requests; positions adopted on resume are
	// monitored under it.
	runCtx context.Context
}

// NewTradingBot creates a bot from already built components.
func NewTradingBot(c Components, logger *zap.Logger) (*TradingBot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(c.Assets) == 0 {
		return nil, errors.New("no assets configured")
	}
	if c.Market == nil || c.Analyzer == nil || c.Governor == nil || c.Engine == nil || c.Broker == nil {
		return nil, errors.New("trading bot requires market data, analyzer, governor, engine and broker")
	}
	if c.Interval <= 0 {
		return nil, errors.New("scan interval must be positive")
	}
	if c.Notifier == nil {
		c.Notifier = domain.NopNotifier{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &TradingBot{Components: c, logger: logger, biases: make(map[string]domain.Bias, len(c.Assets))}, nil
}

// Run reconciles with the broker, then scans on every tick until ctx is done.
func (b *TradingBot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	if err := b.Governor.Reconcile(ctx, b.Broker, b.Engine); err != nil {
		return errors.Wrap(err, "startup reconciliation")
	}
	defer b.Engine.Wait()

	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	b.logger.Info("starting scan loop", zap.Int("assets", len(b.Assets)), zap.Duration("interval", b.Interval))

	b.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("context done, stopping scan loop")
			return ctx.Err()
		case <-ticker.C:
			b.scan(ctx)
		}
	}
}

// ResumeTrading clears a halt after the operator resolved the venue state by hand.
// The recovered broker state replaces whatever the engine was tracking. ctx
// bounds the call only: a recovered position keeps being monitored after it
// returns.
func (b *TradingBot) ResumeTrading(ctx context.Context) error {
	if !b.Governor.Halted() {
		return ErrNotHalted
	}

	b.Engine.Discard()
	b.Governor.ClearHalt()
	if err := b.Governor.Reconcile(b.monitorContext(ctx), b.Broker, b.Engine); err != nil {
		return errors.Wrap(err, "reconcile after halt")
	}
	return nil
}

// monitorContext returns the scan loop context, or ctx detached from its
// cancellation when the loop is not running.
func (b *TradingBot) monitorContext(ctx context.Context) context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.WithoutCancel(ctx)
}

// Status returns the governor snapshot, the active position and the last biases.
func (b *TradingBot) Status() Status {
	st := Status{Risk: b.Governor.Snapshot(), Assets: make([]string, 0, len(b.Assets))}
	for _, a := range b.Assets {
		st.Assets = append(st.Assets, a.Pair.String())
	}
	if p, ok := b.Engine.Active(); ok {
		st.Position = &p
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	st.LastScan = b.lastScan
	st.Biases = make(map[string]domain.Bias, len(b.biases))
	for k, v := range b.biases {
		st.Biases[k] = v
	}
	return st
}

func (b *TradingBot) scan(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(started).Seconds())
		b.mu.Lock()
		b.lastScan = b.Now()
		b.mu.Unlock()
		if b.Advance != nil && b.Step > 0 {
			b.Advance(b.Step)
		}
	}()

	if b.Governor.Halted() {
		b.logger.Debug("trading halted, scan skipped")
		return
	}
	// one position at a time, nothing to evaluate while it is open
	if b.Governor.Locked() {
		b.logger.Debug("position lock held, scan skipped")
		return
	}

	for _, asset := range b.Assets {
		if ctx.Err() != nil {
			return
		}
		if b.scanAsset(ctx, asset) {
			return
		}
	}
}

// scanAsset reports whether a position was opened.
func (b *TradingBot) scanAsset(ctx context.Context, asset structure.AssetParams) bool {
	logger := b.logger.With(zap.String("pair", asset.Pair.String()))

	frames, err := b.Market.FetchFrames(ctx, asset.Pair, b.Candles)
	if err != nil {
		logger.Debug("asset skipped", zap.Error(err))
		return false
	}

	analysis, err := b.Analyzer.Analyze(asset, frames)
	if err != nil {
		logger.Debug("asset skipped", zap.Error(err))
		return false
	}

	b.mu.Lock()
	b.biases[asset.Pair.String()] = analysis.Bias
	b.mu.Unlock()

	if analysis.Signal == nil {
		return false
	}

	s := *analysis.Signal
	b.Notifier.Notify(domain.NewEvent(domain.EventSignal, s.Asset, "signal generated", b.Now()).
		With("direction", string(s.Direction)).
		With("entry", s.Entry.String()).
		With("stop", s.Stop.String()).
		With("target", s.Target.String()).
		With("strength", strconv.FormatFloat(s.Strength, 'f', 1, 64)))

	decision := b.Governor.Evaluate(s)
	if !decision.Approved {
		logger.Debug("signal not taken", zap.String("reason", string(decision.Reason)))
		return false
	}

	if err := b.Engine.Open(ctx, s, decision); err != nil {
		if errors.Is(err, lifecycle.ErrPositionActive) {
			logger.Warn("signal approved while a position is active", zap.Error(err))
		} else {
			logger.Warn("failed to open position", zap.Error(err))
		}
		return false
	}
	return true
}
