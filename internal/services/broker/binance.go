// Package broker implements order execution against Binance cross margin and
// a simulated paper venue.
package broker

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/vadiminshakov/topdown/internal/domain"
	"go.uber.org/zap"
)

// Fill executed market order.
type Fill struct {
	OrderID  int64
	Quantity decimal.Decimal
	// Price average fill price, zero when the venue did not report it.
	Price decimal.Decimal
	// Time venue transaction time, zero when not reported.
	Time time.Time
}

// Trade historical margin trade.
type Trade struct {
	OrderID  int64
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Buy      bool
	Time     time.Time
}

// MarginAPI the part of the Binance margin API the broker needs.
type MarginAPI interface {
	// MarketOrder places a cross margin market order. The side effect decides
	// whether the venue borrows for the order or repays from its proceeds.
	MarketOrder(ctx context.Context, symbol string, side binance.SideType, effect binance.SideEffectType, quantity decimal.Decimal, clientOrderID string) (Fill, error)
	// Trades returns the account's margin trades executed at or after since.
	Trades(ctx context.Context, symbol string, since time.Time) ([]Trade, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// tradeClockSkew widens the trade query window for drift between the local
// clock and the venue's.
const tradeClockSkew = 5 * time.Second

type binanceMargin struct {
	client *binance.Client
}

// NewBinanceMarginAPI adapts the SDK client.
func NewBinanceMarginAPI(client *binance.Client) MarginAPI {
	return &binanceMargin{client: client}
}

func (m *binanceMargin) MarketOrder(ctx context.Context, symbol string, side binance.SideType, effect binance.SideEffectType, quantity decimal.Decimal, clientOrderID string) (Fill, error) {
	res, err := m.client.NewCreateMarginOrderService().Symbol(symbol).
		Side(side).Type(binance.OrderTypeMarket).
		SideEffectType(effect).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return Fill{}, err
	}

	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return Fill{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	fill := Fill{OrderID: res.OrderID, Quantity: executed}
	if res.TransactTime > 0 {
		fill.Time = time.UnixMilli(res.TransactTime)
	}

	quote, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err == nil && executed.IsPositive() && quote.IsPositive() {
		fill.Price = quote.Div(executed)
	}
	return fill, nil
}

func (m *binanceMargin) Trades(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	svc := m.client.NewListMarginTradesService().Symbol(symbol).Limit(1000)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}

	trades := make([]Trade, 0, len(res))
	for _, t := range res {
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse trade quantity")
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse trade price")
		}
		trades = append(trades, Trade{OrderID: t.OrderID, Quantity: qty, Price: price, Buy: t.IsBuyer, Time: time.UnixMilli(t.Time)})
	}
	return trades, nil
}

func (m *binanceMargin) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := m.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return decimal.NewFromString(p.Price)
		}
	}
	return decimal.Zero, errors.Errorf("no price for %s", symbol)
}

// BinanceBroker places market orders on Binance cross margin, borrowing on open
// and repaying on close. Positions and their filled quantity are journaled
// locally and cross-checked against the margin trades made since each open.
type BinanceBroker struct {
	api     MarginAPI
	journal *Journal
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

// BinanceOption configures the BinanceBroker.
type BinanceOption func(*BinanceBroker)

// WithBinanceClock overrides the clock used for position timestamps.
func WithBinanceClock(now func() time.Time) BinanceOption {
	return func(b *BinanceBroker) {
		b.now = now
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(settings gobreaker.Settings) BinanceOption {
	return func(b *BinanceBroker) {
		b.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// DefaultBreakerSettings opens after five consecutive venue failures and
// lets a trial request through after 30 seconds. Rejected orders do not count as failures.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:     "binance-margin",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrOrderRejected) || errors.Is(err, context.Canceled)
		},
	}
}

// NewBinanceBroker creates the margin broker.
func NewBinanceBroker(api MarginAPI, journal *Journal, logger *zap.Logger, opts ...BinanceOption) (*BinanceBroker, error) {
	if api == nil {
		return nil, errors.New("binance margin api is required")
	}
	if journal == nil {
		return nil, errors.New("position journal is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &BinanceBroker{
		api:     api,
		journal: journal,
		breaker: gobreaker.NewCircuitBreaker(DefaultBreakerSettings()),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// OpenPosition buys (long) or borrows and sells (short) stake×multiplier worth of the base asset.
func (b *BinanceBroker) OpenPosition(ctx context.Context, asset domain.Pair, dir domain.Direction, stake, multiplier decimal.Decimal) (domain.BrokerPosition, error) {
	if !dir.IsValid() {
		return domain.BrokerPosition{}, errors.Wrapf(domain.ErrOrderRejected, "invalid direction %q", dir)
	}
	if !stake.IsPositive() || !multiplier.IsPositive() {
		return domain.BrokerPosition{}, errors.Wrap(domain.ErrOrderRejected, "stake and multiplier must be positive")
	}

	price, err := b.CurrentPrice(ctx, asset)
	if err != nil {
		return domain.BrokerPosition{}, err
	}

	quantity := stake.Mul(multiplier).Div(price).RoundFloor(4)
	if !quantity.IsPositive() {
		return domain.BrokerPosition{}, errors.Wrapf(domain.ErrOrderRejected, "order quantity rounds to zero at price %s", price)
	}

	id := uuid.NewString()
	openedAt := b.now()
	fill, err := b.order(ctx, asset, openSide(dir), binance.SideEffectTypeMarginBuy, quantity, "o"+compactID(id))
	if err != nil {
		return domain.BrokerPosition{}, err
	}

	entry := fill.Price
	if !entry.IsPositive() {
		entry = price
	}
	if fill.Quantity.IsPositive() {
		quantity = fill.Quantity
	}
	if !fill.Time.IsZero() {
		openedAt = fill.Time
	}

	pos := domain.BrokerPosition{
		ID:         id,
		Asset:      asset,
		Direction:  dir,
		Entry:      entry,
		Stake:      stake,
		Multiplier: multiplier,
		Quantity:   quantity,
		OpenedAt:   openedAt,
	}
	if err := b.journal.Opened(pos, fill.OrderID); err != nil {
		// the order is filled, losing the position here would orphan it
		b.logger.Error("failed to journal opened position",
			zap.String("id", id),
			zap.String("pair", asset.String()),
			zap.Error(err))
	}

	b.logger.Info("margin position opened",
		zap.String("id", id),
		zap.String("pair", asset.String()),
		zap.String("direction", string(dir)),
		zap.String("quantity", quantity.String()),
		zap.String("entry", entry.String()))

	return pos, nil
}

// ClosePosition unwinds the journaled quantity of the position and repays the
// loan. Holdings that predate the position are left alone.
func (b *BinanceBroker) ClosePosition(ctx context.Context, id string) (domain.Outcome, error) {
	pos, ok := b.journal.Get(id)
	if !ok {
		return domain.Outcome{}, errors.Wrapf(domain.ErrPositionNotFound, "position %s", id)
	}

	held, err := b.heldSince(ctx, pos)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !held.IsPositive() {
		return domain.Outcome{}, errors.Wrapf(domain.ErrPositionNotFound, "no %s exposure on %s for position %s", pos.Direction, pos.Asset, id)
	}

	quantity := pos.Quantity
	if !quantity.IsPositive() || held.LessThan(quantity) {
		// reduced by hand since the open, close what is left of it
		if quantity.IsPositive() {
			b.logger.Warn("position partially closed outside the engine",
				zap.String("id", id),
				zap.String("journaled", quantity.String()),
				zap.String("held", held.String()))
		}
		quantity = held
	}
	quantity = quantity.RoundFloor(4)
	if !quantity.IsPositive() {
		return domain.Outcome{}, errors.Wrapf(domain.ErrPositionNotFound, "no %s exposure on %s for position %s", pos.Direction, pos.Asset, id)
	}

	fill, err := b.order(ctx, pos.Asset, closeSide(pos.Direction), binance.SideEffectTypeAutoRepay, quantity, "c"+compactID(id))
	if err != nil {
		return domain.Outcome{}, err
	}

	exit := fill.Price
	if !exit.IsPositive() {
		if exit, err = b.CurrentPrice(ctx, pos.Asset); err != nil {
			b.logger.Warn("close filled without a price", zap.String("id", id), zap.Error(err))
			exit = pos.Entry
		}
	}

	if err := b.journal.Closed(id); err != nil {
		b.logger.Error("failed to journal closed position", zap.String("id", id), zap.Error(err))
	}

	outcome := domain.Outcome{
		PositionID: id,
		ExitPrice:  exit,
		PnL:        pos.ToPosition().UnrealizedPnL(exit),
		ClosedAt:   b.now(),
	}

	b.logger.Info("margin position closed",
		zap.String("id", id),
		zap.String("pair", pos.Asset.String()),
		zap.String("exit", exit.String()),
		zap.String("pnl", outcome.PnL.String()))

	return outcome, nil
}

// QueryOpenPositions returns journaled positions that still have exposure on
// the venue from trades made since they opened. Positions closed outside the
// engine are dropped from the journal.
func (b *BinanceBroker) QueryOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	journaled := b.journal.Open()
	if len(journaled) == 0 {
		return nil, nil
	}

	open := make([]domain.BrokerPosition, 0, len(journaled))
	for _, pos := range journaled {
		held, err := b.heldSince(ctx, pos)
		if err != nil {
			return nil, err
		}

		if !held.IsPositive() {
			b.logger.Warn("journaled position has no exposure, dropping it",
				zap.String("id", pos.ID),
				zap.String("pair", pos.Asset.String()))
			if err := b.journal.Closed(pos.ID); err != nil {
				return nil, err
			}
			continue
		}
		open = append(open, pos)
	}
	return open, nil
}

// CurrentPrice returns the last traded price.
func (b *BinanceBroker) CurrentPrice(ctx context.Context, asset domain.Pair) (decimal.Decimal, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		price, err := b.api.Price(ctx, asset.Symbol())
		return price, classify(err)
	})
	if err != nil {
		return decimal.Zero, wrapBreaker(err, "price "+asset.String())
	}

	price := res.(decimal.Decimal)
	if !price.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrBrokerTransient, "non-positive price %s for %s", price, asset)
	}
	return price, nil
}

// RecordProtection journals the current stop and target.
func (b *BinanceBroker) RecordProtection(_ context.Context, id string, stop, target decimal.Decimal) error {
	return b.journal.Protected(id, stop, target)
}

func (b *BinanceBroker) order(ctx context.Context, asset domain.Pair, side binance.SideType, effect binance.SideEffectType, quantity decimal.Decimal, clientOrderID string) (Fill, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		fill, err := b.api.MarketOrder(ctx, asset.Symbol(), side, effect, quantity, clientOrderID)
		return fill, classify(err)
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderRejected) {
			b.logger.Warn("margin order rejected",
				zap.String("pair", asset.String()),
				zap.String("side", string(side)),
				zap.Error(err))
		}
		return Fill{}, wrapBreaker(err, fmt.Sprintf("%s %s", side, asset))
	}
	return res.(Fill), nil
}

// heldSince base quantity the position's direction still holds, counting only
// trades from its opening order on.
func (b *BinanceBroker) heldSince(ctx context.Context, pos domain.BrokerPosition) (decimal.Decimal, error) {
	since := pos.OpenedAt
	if !since.IsZero() {
		since = since.Add(-tradeClockSkew)
	}

	res, err := b.breaker.Execute(func() (interface{}, error) {
		trades, err := b.api.Trades(ctx, pos.Asset.Symbol(), since)
		return trades, classify(err)
	})
	if err != nil {
		return decimal.Zero, wrapBreaker(err, "margin trades "+pos.Asset.String())
	}
	trades := fromOrder(res.([]Trade), b.journal.OpenOrder(pos.ID))
	return netExposure(trades).Mul(pos.Direction.Sign()), nil
}

// fromOrder drops the trades that precede the given order. All trades are
// kept when the order is unknown or not among them.
func fromOrder(trades []Trade, orderID int64) []Trade {
	sorted := append([]Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	if orderID == 0 {
		return sorted
	}
	for i, t := range sorted {
		if t.OrderID == orderID {
			return sorted[i:]
		}
	}
	return sorted
}

func netExposure(trades []Trade) decimal.Decimal {
	net := decimal.Zero
	for _, t := range trades {
		if t.Buy {
			net = net.Add(t.Quantity)
		} else {
			net = net.Sub(t.Quantity)
		}
	}
	return net
}

func openSide(dir domain.Direction) binance.SideType {
	if dir == domain.DirectionShort {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func closeSide(dir domain.Direction) binance.SideType {
	if dir == domain.DirectionShort {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

// compactID strips dashes so the client order id fits Binance's 36 character limit.
func compactID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// Binance error codes that mean the request may succeed later.
var transientCodes = map[int64]struct{}{
	-1001: {}, // disconnected
	-1003: {}, // too many requests
	-1006: {}, // unexpected response
	-1007: {}, // timeout
	-1008: {}, // server busy
}

// classify maps venue errors onto the broker taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if _, ok := transientCodes[apiErr.Code]; ok {
			return fmt.Errorf("%w: %v", domain.ErrBrokerTransient, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrOrderRejected, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrBrokerTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// unknown failures are treated as network noise
	return fmt.Errorf("%w: %v", domain.ErrBrokerTransient, err)
}

func wrapBreaker(err error, op string) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", domain.ErrBrokerTransient, op, err)
	}
	return errors.Wrap(err, op)
}
