package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/pkg/retrier"
	"go.uber.org/zap"
)

var testStart = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type fakeBroker struct {
	mu         sync.Mutex
	price      decimal.Decimal
	openErrs   []error
	closeErrs  []error
	opens      int
	closes     int
	positions  map[string]domain.BrokerPosition
	protection map[string][2]decimal.Decimal
}

func newFakeBroker(price string) *fakeBroker {
	return &fakeBroker{
		price:      d(price),
		positions:  map[string]domain.BrokerPosition{},
		protection: map[string][2]decimal.Decimal{},
	}
}

func (b *fakeBroker) setPrice(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price = d(p)
}

func (b *fakeBroker) OpenPosition(_ context.Context, asset domain.Pair, dir domain.Direction, stake, mult decimal.Decimal) (domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if len(b.openErrs) > 0 {
		err := b.openErrs[0]
		b.openErrs = b.openErrs[1:]
		return domain.BrokerPosition{}, err
	}
	p := domain.BrokerPosition{
		ID:         fmt.Sprintf("pos-%d", b.opens),
		Asset:      asset,
		Direction:  dir,
		Entry:      b.price,
		Stake:      stake,
		Multiplier: mult,
		OpenedAt:   testStart,
	}
	b.positions[p.ID] = p
	return p, nil
}

func (b *fakeBroker) ClosePosition(_ context.Context, id string) (domain.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	if len(b.closeErrs) > 0 {
		err := b.closeErrs[0]
		b.closeErrs = b.closeErrs[1:]
		return domain.Outcome{}, err
	}
	p, ok := b.positions[id]
	if !ok {
		return domain.Outcome{}, domain.ErrPositionNotFound
	}
	delete(b.positions, id)
	return domain.Outcome{
		PositionID: id,
		ExitPrice:  b.price,
		PnL:        p.ToPosition().UnrealizedPnL(b.price),
		ClosedAt:   testStart.Add(time.Minute),
	}, nil
}

func (b *fakeBroker) QueryOpenPositions(context.Context) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *fakeBroker) CurrentPrice(context.Context, domain.Pair) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.price, nil
}

func (b *fakeBroker) RecordProtection(_ context.Context, id string, stop, target decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.protection[id] = [2]decimal.Decimal{stop, target}
	return nil
}

func (b *fakeBroker) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

type fakeRisk struct {
	mu       sync.Mutex
	outcomes []decimal.Decimal
	aborts   int
	halts    []string
}

func (r *fakeRisk) ReportOutcome(pnl decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, pnl)
}

func (r *fakeRisk) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
}

func (r *fakeRisk) Halt(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halts = append(r.halts, reason)
}

func (r *fakeRisk) snapshot() ([]decimal.Decimal, int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]decimal.Decimal(nil), r.outcomes...), r.aborts, append([]string(nil), r.halts...)
}

type historyMock struct {
	mock.Mock
}

func (m *historyMock) Save(r domain.TradeRecord) error {
	return m.Called(r).Error(0)
}

func testSignal() domain.Signal {
	return domain.Signal{
		Asset:      domain.Pair{From: "BTC", To: "USDT"},
		Direction:  domain.DirectionLong,
		Entry:      d("100"),
		Stop:       d("99.95"),
		Target:     d("100.2"),
		Strength:   7,
		Stake:      d("10"),
		Multiplier: d("160"),
	}
}

func newTestEngine(t *testing.T, cfg Config, broker *fakeBroker, opts ...Option) (*Engine, *fakeRisk, context.Context) {
	t.Helper()
	cfg.MonitorInterval = 2 * time.Millisecond
	risk := &fakeRisk{}
	fast := func(retries int, retryIf func(error) bool) *retrier.Retrier {
		return retrier.New(retrier.WithMaxRetries(retries), retrier.WithInitialInterval(time.Millisecond),
			retrier.WithMaxInterval(2*time.Millisecond), retrier.WithRetryIf(retryIf))
	}
	base := []Option{
		WithClock(func() time.Time { return testStart.Add(30 * time.Second) }),
		WithOpenRetrier(fast(1, OpenRetryable)),
		WithCloseRetrier(fast(3, CloseRetryable)),
	}
	e := NewEngine(cfg, broker, risk, zap.NewNop(), append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		e.Wait()
	})
	return e, risk, ctx
}

func open(t *testing.T, ctx context.Context, e *Engine) {
	t.Helper()
	s := testSignal()
	require.NoError(t, e.Open(ctx, s, domain.Approve(s.Stop, s.Target)))
}

// waitClosed waits for the position to leave the engine and its outcome to reach the governor.
func waitClosed(t *testing.T, e *Engine, risk *fakeRisk) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, active := e.Active()
		outcomes, _, _ := risk.snapshot()
		return !active && len(outcomes) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestEngine_OpenAndTarget(t *testing.T) {
	broker := newFakeBroker("100")
	history := &historyMock{}
	saved := make(chan domain.TradeRecord, 1)
	history.On("Save", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		saved <- args.Get(0).(domain.TradeRecord)
	})

	e, risk, ctx := newTestEngine(t, DefaultConfig(), broker, WithHistory(history))
	open(t, ctx, e)

	pos, ok := e.Active()
	require.True(t, ok)
	assert.Equal(t, "pos-1", pos.ID)
	assert.Equal(t, domain.PhaseMonitoring, pos.Phase)
	assert.True(t, pos.Stop.Equal(d("99.95")))
	assert.True(t, pos.Target.Equal(d("100.2")))

	broker.mu.Lock()
	assert.True(t, broker.protection["pos-1"][1].Equal(d("100.2")))
	broker.mu.Unlock()

	broker.setPrice("100.25")
	waitClosed(t, e, risk)

	select {
	case rec := <-saved:
		assert.Equal(t, domain.ExitTarget, rec.Reason)
		assert.True(t, rec.Exit.Equal(d("100.25")))
		assert.True(t, rec.PnL.Equal(d("4")), rec.PnL.String())
	case <-time.After(time.Second):
		t.Fatal("trade record not saved")
	}

	outcomes, aborts, halts := risk.snapshot()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Equal(d("4")))
	assert.Zero(t, aborts)
	assert.Empty(t, halts)
}

func TestEngine_TrailingThenStop(t *testing.T) {
	broker := newFakeBroker("100")
	e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)
	open(t, ctx, e)

	broker.setPrice("100.05")
	require.Eventually(t, func() bool {
		pos, ok := e.Active()
		return ok && pos.Stop.Equal(d("100.025")) && pos.TrailTier == "Initial Lock"
	}, time.Second, 2*time.Millisecond)

	broker.setPrice("100.02")
	waitClosed(t, e, risk)

	outcomes, _, _ := risk.snapshot()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].IsPositive(), "stop was ratcheted above entry")
}

func TestEngine_LegacyModeKeepsStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = domain.RiskModeLegacy
	broker := newFakeBroker("100")
	e, _, ctx := newTestEngine(t, cfg, broker)
	open(t, ctx, e)

	broker.setPrice("100.15")
	assert.Never(t, func() bool {
		pos, _ := e.Active()
		return !pos.Stop.Equal(d("99.95"))
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestEngine_OpenFailures(t *testing.T) {
	t.Run("transient errors exhausted", func(t *testing.T) {
		broker := newFakeBroker("100")
		transient := fmt.Errorf("%w: timeout", domain.ErrBrokerTransient)
		broker.openErrs = []error{transient, transient}
		e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)

		s := testSignal()
		err := e.Open(ctx, s, domain.Approve(s.Stop, s.Target))
		require.ErrorIs(t, err, domain.ErrBrokerTransient)

		opens, _ := broker.counts()
		assert.Equal(t, 2, opens)
		_, aborts, _ := risk.snapshot()
		assert.Equal(t, 1, aborts)
		_, ok := e.Active()
		assert.False(t, ok)
	})

	t.Run("transient then success", func(t *testing.T) {
		broker := newFakeBroker("100")
		broker.openErrs = []error{fmt.Errorf("%w: timeout", domain.ErrBrokerTransient)}
		e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)

		open(t, ctx, e)
		_, aborts, _ := risk.snapshot()
		assert.Zero(t, aborts)
	})

	t.Run("rejected is not retried", func(t *testing.T) {
		broker := newFakeBroker("100")
		broker.openErrs = []error{fmt.Errorf("%w: insufficient margin", domain.ErrOrderRejected)}
		e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)

		s := testSignal()
		err := e.Open(ctx, s, domain.Approve(s.Stop, s.Target))
		require.ErrorIs(t, err, domain.ErrOrderRejected)

		opens, _ := broker.counts()
		assert.Equal(t, 1, opens)
		_, aborts, _ := risk.snapshot()
		assert.Equal(t, 1, aborts)
	})

	t.Run("second open while active", func(t *testing.T) {
		broker := newFakeBroker("100")
		e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)
		open(t, ctx, e)

		s := testSignal()
		err := e.Open(ctx, s, domain.Approve(s.Stop, s.Target))
		assert.ErrorIs(t, err, ErrPositionActive)
		_, aborts, _ := risk.snapshot()
		assert.Equal(t, 1, aborts)
	})
}

func TestEngine_CloseRetries(t *testing.T) {
	broker := newFakeBroker("100")
	e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)
	open(t, ctx, e)

	broker.mu.Lock()
	broker.closeErrs = []error{
		fmt.Errorf("%w: reset", domain.ErrBrokerTransient),
		fmt.Errorf("%w: reset", domain.ErrBrokerTransient),
	}
	broker.mu.Unlock()

	broker.setPrice("100.3")
	waitClosed(t, e, risk)

	_, closes := broker.counts()
	assert.Equal(t, 3, closes)
	outcomes, _, halts := risk.snapshot()
	assert.Len(t, outcomes, 1)
	assert.Empty(t, halts)
}

func TestEngine_FatalClose(t *testing.T) {
	broker := newFakeBroker("100")
	e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)
	open(t, ctx, e)

	broker.mu.Lock()
	delete(broker.positions, "pos-1")
	broker.mu.Unlock()

	broker.setPrice("100.3")
	require.Eventually(t, func() bool {
		_, _, halts := risk.snapshot()
		return len(halts) == 1
	}, time.Second, 2*time.Millisecond)

	pos, ok := e.Active()
	require.True(t, ok, "position kept after fatal close")
	assert.Equal(t, domain.PhaseClosing, pos.Phase)

	_, closes := broker.counts()
	assert.Equal(t, 1, closes, "position not found is not retried")
	outcomes, _, halts := risk.snapshot()
	assert.Empty(t, outcomes)
	assert.Contains(t, halts[0], "pos-1")

	e.Discard()
	_, ok = e.Active()
	assert.False(t, ok)
}

func TestEngine_CloseRetriesExhausted(t *testing.T) {
	broker := newFakeBroker("100")
	e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)
	open(t, ctx, e)

	network := fmt.Errorf("%w: unreachable", domain.ErrBrokerTransient)
	broker.mu.Lock()
	broker.closeErrs = []error{network, network, network, network, network}
	broker.mu.Unlock()

	broker.setPrice("99.9")
	require.Eventually(t, func() bool {
		_, _, halts := risk.snapshot()
		return len(halts) == 1
	}, time.Second, 2*time.Millisecond)

	_, closes := broker.counts()
	assert.Equal(t, 4, closes)
	pos, ok := e.Active()
	require.True(t, ok)
	assert.Equal(t, domain.PhaseClosing, pos.Phase)
}

func TestEngine_Adopt(t *testing.T) {
	broker := newFakeBroker("100")
	e, risk, ctx := newTestEngine(t, DefaultConfig(), broker)

	bp := domain.BrokerPosition{
		ID:         "recovered",
		Asset:      domain.Pair{From: "ETH", To: "USDT"},
		Direction:  domain.DirectionLong,
		Entry:      d("100"),
		Stake:      d("10"),
		Multiplier: d("160"),
		Stop:       d("99.95"),
		Target:     d("100.2"),
		OpenedAt:   testStart,
	}
	broker.positions[bp.ID] = bp
	e.Adopt(ctx, bp.ToPosition())

	pos, ok := e.Active()
	require.True(t, ok)
	assert.Equal(t, "recovered", pos.ID)

	broker.setPrice("99.9")
	waitClosed(t, e, risk)

	opens, _ := broker.counts()
	assert.Zero(t, opens, "adopted position is not reopened")
	outcomes, _, _ := risk.snapshot()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Equal(d("-1.6")))
}
