package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/storage/paperstate"
	"go.uber.org/zap"
)

type fakePricer struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
}

func (f *fakePricer) CurrentPrice(context.Context, domain.Pair) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.price, f.err
}

func (f *fakePricer) set(price string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.price = d(price)
}

func newPaper(t *testing.T, pricer Pricer, store *paperstate.Store) *PaperBroker {
	t.Helper()

	opts := []PaperOption{WithPaperClock(func() time.Time { return opened })}
	if store != nil {
		opts = append(opts, WithStore(store))
	}
	p, err := NewPaperBroker(pricer, d("100"), zap.NewNop(), opts...)
	require.NoError(t, err)
	return p
}

func TestPaperBroker_OpenAndClose(t *testing.T) {
	pricer := &fakePricer{price: d("100")}
	p := newPaper(t, pricer, nil)
	ctx := context.Background()

	pos, err := p.OpenPosition(ctx, btc, domain.DirectionLong, d("10"), d("160"))
	require.NoError(t, err)
	assert.Equal(t, "100", pos.Entry.String())
	assert.Equal(t, "90", p.Balance().String())

	open, err := p.QueryOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	pricer.set("101")
	outcome, err := p.ClosePosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, outcome.PnL.Equal(d("16")), "got %s", outcome.PnL)
	assert.Equal(t, "101", outcome.ExitPrice.String())
	assert.True(t, p.Balance().Equal(d("116")))

	_, err = p.ClosePosition(ctx, pos.ID)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestPaperBroker_LossCappedAtStake(t *testing.T) {
	pricer := &fakePricer{price: d("100")}
	p := newPaper(t, pricer, nil)

	pos, err := p.OpenPosition(context.Background(), btc, domain.DirectionLong, d("10"), d("160"))
	require.NoError(t, err)

	pricer.set("90")
	outcome, err := p.ClosePosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, outcome.PnL.Equal(d("-10")), "got %s", outcome.PnL)
	assert.True(t, p.Balance().Equal(d("90")))
}

func TestPaperBroker_Rejections(t *testing.T) {
	pricer := &fakePricer{price: d("100")}
	p := newPaper(t, pricer, nil)
	ctx := context.Background()

	_, err := p.OpenPosition(ctx, btc, domain.DirectionLong, d("101"), d("1"))
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	_, err = p.OpenPosition(ctx, btc, domain.Direction(""), d("1"), d("1"))
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	pricer.err = errors.New("feed down")
	_, err = p.OpenPosition(ctx, btc, domain.DirectionShort, d("1"), d("1"))
	assert.ErrorIs(t, err, domain.ErrBrokerTransient)
	assert.Equal(t, "100", p.Balance().String())
}

func TestPaperBroker_Restore(t *testing.T) {
	store, err := paperstate.NewStore(t.TempDir())
	require.NoError(t, err)
	pricer := &fakePricer{price: d("50")}
	ctx := context.Background()

	p := newPaper(t, pricer, store)
	pos, err := p.OpenPosition(ctx, btc, domain.DirectionShort, d("20"), d("10"))
	require.NoError(t, err)
	require.NoError(t, p.RecordProtection(ctx, pos.ID, d("51"), d("45")))
	assert.ErrorIs(t, p.RecordProtection(ctx, "nope", d("1"), d("1")), domain.ErrPositionNotFound)

	restored := newPaper(t, pricer, store)
	assert.Equal(t, "80", restored.Balance().String())

	open, err := restored.QueryOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pos.ID, open[0].ID)
	assert.Equal(t, domain.DirectionShort, open[0].Direction)
	assert.Equal(t, "51", open[0].Stop.String())
	assert.Equal(t, "45", open[0].Target.String())

	pricer.set("45")
	outcome, err := restored.ClosePosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, outcome.PnL.Equal(d("20")), "got %s", outcome.PnL)

	again := newPaper(t, pricer, store)
	open, err = again.QueryOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.True(t, again.Balance().Equal(d("120")))
}
