package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/storage/paperstate"
	"go.uber.org/zap"
)

// Pricer source of live prices for the paper broker.
type Pricer interface {
	CurrentPrice(ctx context.Context, asset domain.Pair) (decimal.Decimal, error)
}

// PaperBroker simulated venue that fills every order at the current price.
type PaperBroker struct {
	mu        sync.Mutex
	pricer    Pricer
	store     *paperstate.Store
	logger    *zap.Logger
	now       func() time.Time
	balance   decimal.Decimal
	positions map[string]domain.BrokerPosition
}

// PaperOption configures the PaperBroker.
type PaperOption func(*PaperBroker)

// WithPaperClock overrides the clock used for position timestamps.
func WithPaperClock(now func() time.Time) PaperOption {
	return func(p *PaperBroker) {
		p.now = now
	}
}

// WithStore persists balance and positions across restarts.
func WithStore(store *paperstate.Store) PaperOption {
	return func(p *PaperBroker) {
		p.store = store
	}
}

// NewPaperBroker creates a paper broker. A saved state overrides the initial balance.
func NewPaperBroker(pricer Pricer, balance decimal.Decimal, logger *zap.Logger, opts ...PaperOption) (*PaperBroker, error) {
	if pricer == nil {
		return nil, errors.New("pricer is required for PaperBroker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &PaperBroker{
		pricer:    pricer,
		logger:    logger,
		now:       time.Now,
		balance:   balance,
		positions: make(map[string]domain.BrokerPosition),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.restore(); err != nil {
		return nil, errors.Wrap(err, "restore paper state")
	}

	logger.Info("paper broker init",
		zap.String("balance", p.balance.String()),
		zap.Int("open_positions", len(p.positions)))

	return p, nil
}

// OpenPosition reserves the stake and fills at the current price.
func (p *PaperBroker) OpenPosition(ctx context.Context, asset domain.Pair, dir domain.Direction, stake, multiplier decimal.Decimal) (domain.BrokerPosition, error) {
	if !dir.IsValid() {
		return domain.BrokerPosition{}, errors.Wrapf(domain.ErrOrderRejected, "invalid direction %q", dir)
	}
	if !stake.IsPositive() || !multiplier.IsPositive() {
		return domain.BrokerPosition{}, errors.Wrap(domain.ErrOrderRejected, "stake and multiplier must be positive")
	}

	price, err := p.price(ctx, asset)
	if err != nil {
		return domain.BrokerPosition{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if stake.GreaterThan(p.balance) {
		return domain.BrokerPosition{}, errors.Wrapf(domain.ErrOrderRejected, "insufficient balance %s for stake %s", p.balance, stake)
	}

	pos := domain.BrokerPosition{
		ID:         uuid.NewString(),
		Asset:      asset,
		Direction:  dir,
		Entry:      price,
		Stake:      stake,
		Multiplier: multiplier,
		OpenedAt:   p.now(),
	}
	p.balance = p.balance.Sub(stake)
	p.positions[pos.ID] = pos
	p.persist()

	p.logger.Info("paper position opened",
		zap.String("id", pos.ID),
		zap.String("pair", asset.String()),
		zap.String("direction", string(dir)),
		zap.String("entry", price.String()),
		zap.String("balance", p.balance.String()))

	return pos, nil
}

// ClosePosition settles the position at the current price.
func (p *PaperBroker) ClosePosition(ctx context.Context, id string) (domain.Outcome, error) {
	p.mu.Lock()
	pos, ok := p.positions[id]
	p.mu.Unlock()
	if !ok {
		return domain.Outcome{}, errors.Wrapf(domain.ErrPositionNotFound, "position %s", id)
	}

	price, err := p.price(ctx, pos.Asset)
	if err != nil {
		return domain.Outcome{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.positions[id]; !ok {
		return domain.Outcome{}, errors.Wrapf(domain.ErrPositionNotFound, "position %s", id)
	}

	pnl := pos.ToPosition().UnrealizedPnL(price)
	returned := pos.Stake.Add(pnl)
	if returned.IsNegative() {
		// a loss beyond the stake is capped, the venue liquidates first
		returned = decimal.Zero
		pnl = pos.Stake.Neg()
	}
	p.balance = p.balance.Add(returned)
	delete(p.positions, id)
	p.persist()

	p.logger.Info("paper position closed",
		zap.String("id", id),
		zap.String("exit", price.String()),
		zap.String("pnl", pnl.String()),
		zap.String("balance", p.balance.String()))

	return domain.Outcome{
		PositionID: id,
		ExitPrice:  price,
		PnL:        pnl,
		ClosedAt:   p.now(),
	}, nil
}

// QueryOpenPositions returns open positions, oldest first.
func (p *PaperBroker) QueryOpenPositions(_ context.Context) ([]domain.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

// CurrentPrice returns the live market price.
func (p *PaperBroker) CurrentPrice(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	return p.price(ctx, asset)
}

// RecordProtection stores the stop and target with the position.
func (p *PaperBroker) RecordProtection(_ context.Context, id string, stop, target decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[id]
	if !ok {
		return errors.Wrapf(domain.ErrPositionNotFound, "position %s", id)
	}
	pos.Stop, pos.Target = stop, target
	p.positions[id] = pos
	p.persist()
	return nil
}

// Balance returns the free balance.
func (p *PaperBroker) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.balance
}

func (p *PaperBroker) price(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	price, err := p.pricer.CurrentPrice(ctx, asset)
	if err != nil {
		return decimal.Zero, errors.Wrapf(domain.ErrBrokerTransient, "price %s: %v", asset, err)
	}
	return price, nil
}

func (p *PaperBroker) restore() error {
	if p.store == nil {
		return nil
	}
	state, err := p.store.Load()
	if err != nil || state == nil {
		return err
	}

	if state.Balance != "" {
		balance, err := decimal.NewFromString(state.Balance)
		if err != nil {
			return errors.Wrap(err, "decode balance")
		}
		p.balance = balance
	}

	for _, stored := range state.Positions {
		pos, err := stored.ToBrokerPosition()
		if err != nil {
			return err
		}
		p.positions[pos.ID] = pos
	}
	return nil
}

// persist must be called with mu held.
func (p *PaperBroker) persist() {
	if p.store == nil {
		return
	}

	state := paperstate.State{
		Balance:   p.balance.String(),
		Positions: make([]paperstate.StoredPosition, 0, len(p.positions)),
	}
	for _, pos := range p.positions {
		state.Positions = append(state.Positions, paperstate.NewStoredPosition(pos))
	}
	sort.Slice(state.Positions, func(i, j int) bool {
		return state.Positions[i].OpenedAt.Before(state.Positions[j].OpenedAt)
	})

	if err := p.store.Save(state); err != nil {
		p.logger.Warn("failed to persist paper state", zap.Error(err))
	}
}
