package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/topdown/internal/domain"
)

func breakoutMinutes() []domain.Candle {
	c := flat(domain.Timeframe1m, epoch, 20, 99, 0.5)
	return append(c,
		barAt(domain.Timeframe1m, epoch, 20, 99, 104.5, 98.8, 104),
		barAt(domain.Timeframe1m, epoch, 21, 104, 106, 103.8, 105.5),
		barAt(domain.Timeframe1m, epoch, 22, 105.5, 105.6, 104.9, 105),
	)
}

func constATR(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFindBreakout(t *testing.T) {
	candles := breakoutMinutes()
	levels := []domain.Level{{Price: dec(100), Kind: domain.LevelUntested}}

	t.Run("momentum close through level", func(t *testing.T) {
		b, ok := FindBreakout(candles, constATR(len(candles), 2), levels, domain.DirectionLong, 5, 1.5)
		require.True(t, ok)
		assert.Equal(t, 20, b.Index)
		assert.True(t, b.Level.Equal(dec(100)))
		assert.InDelta(t, 2.0, b.Magnitude, 1e-9)
	})

	t.Run("close too close to level", func(t *testing.T) {
		_, ok := FindBreakout(candles, constATR(len(candles), 3), levels, domain.DirectionLong, 5, 1.5)
		assert.False(t, ok)
	})

	t.Run("wrong direction", func(t *testing.T) {
		_, ok := FindBreakout(candles, constATR(len(candles), 2), levels, domain.DirectionShort, 5, 1.5)
		assert.False(t, ok)
	})

	t.Run("breakout outside window", func(t *testing.T) {
		_, ok := FindBreakout(candles, constATR(len(candles), 2), levels, domain.DirectionLong, 1, 1.5)
		assert.False(t, ok)
	})

	t.Run("no atr", func(t *testing.T) {
		_, ok := FindBreakout(candles, make([]float64, len(candles)), levels, domain.DirectionLong, 5, 1.5)
		assert.False(t, ok)
	})

	t.Run("weak conviction", func(t *testing.T) {
		c := breakoutMinutes()
		// close far from the high
		c[20] = barAt(domain.Timeframe1m, epoch, 20, 99, 108, 98.8, 104)
		_, ok := FindBreakout(c, constATR(len(c), 2), levels, domain.DirectionLong, 5, 1.5)
		assert.False(t, ok)
	})
}

func TestMeasureRetest(t *testing.T) {
	candles := breakoutMinutes()
	b := Breakout{Index: 20, Level: dec(100), Magnitude: 2}

	r, ok := MeasureRetest(candles, b, dec(105), domain.DirectionLong)
	require.True(t, ok)
	assert.True(t, r.Peak.Equal(dec(106)))
	assert.InDelta(t, 100.0/6, r.RetracePct, 1e-9)

	_, ok = MeasureRetest(candles, b, dec(99.5), domain.DirectionLong)
	assert.False(t, ok, "price back below the level")
}

func TestInMiddleZone(t *testing.T) {
	levels := []domain.Level{{Price: dec(100)}, {Price: dec(110)}}

	tests := []struct {
		price  float64
		middle bool
	}{
		{101, false},
		{103, false},
		{105, true},
		{106.9, true},
		{107, false},
		{109, false},
		{111, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.middle, InMiddleZone(dec(tt.price), levels, 40), "price %v", tt.price)
	}

	assert.False(t, InMiddleZone(dec(105), levels[:1], 40), "no level above")
}

func TestNearestUntested(t *testing.T) {
	levels := []domain.Level{
		{Price: dec(100), Kind: domain.LevelUntested},
		{Price: dec(110), Kind: domain.LevelTested},
		{Price: dec(115), Kind: domain.LevelUntested},
		{Price: dec(120), Kind: domain.LevelUntested},
		{Price: dec(107), Kind: domain.LevelMinor},
	}

	target, ok := NearestUntested(dec(105), levels, domain.DirectionLong)
	require.True(t, ok)
	assert.True(t, target.Equal(dec(115)))

	target, ok = NearestUntested(dec(105), levels, domain.DirectionShort)
	require.True(t, ok)
	assert.True(t, target.Equal(dec(100)))

	_, ok = NearestUntested(dec(125), levels, domain.DirectionLong)
	assert.False(t, ok)
}

func TestStructuralStop(t *testing.T) {
	lows := []float64{10, 9, 5, 9, 10, 11, 12, 8, 12, 13, 14}
	daily := make([]domain.Candle, len(lows))
	for i, l := range lows {
		daily[i] = barAt(domain.Timeframe1d, epoch, i, l+1, l+2, l, l+1)
	}

	stop, ok := StructuralStop(daily, dec(20), domain.DirectionLong, 2)
	require.True(t, ok)
	assert.True(t, stop.Equal(dec(8)), "most recent swing low")

	stop, ok = StructuralStop(daily, dec(7), domain.DirectionLong, 2)
	require.True(t, ok)
	assert.True(t, stop.Equal(dec(5)), "swing low below entry")

	_, ok = StructuralStop(daily, dec(4), domain.DirectionLong, 2)
	assert.False(t, ok)

	_, ok = StructuralStop(daily[:4], dec(20), domain.DirectionLong, 2)
	assert.False(t, ok)
}

func TestStrength(t *testing.T) {
	cfg := DefaultConfig()

	full := Strength(cfg,
		Breakout{Magnitude: 3},
		Retest{RetracePct: 5},
		Agreement{Trend4h: true, Trend1h: true, ADXTrend: true, RSI: true},
	)
	assert.InDelta(t, 10, full, 1e-9)

	partial := Strength(cfg,
		Breakout{Magnitude: 0.75},
		Retest{RetracePct: 17.5},
		Agreement{Trend4h: true},
	)
	assert.InDelta(t, 1+1.5+1, partial, 1e-9)

	capped := Strength(cfg, Breakout{Magnitude: 30}, Retest{RetracePct: 0}, Agreement{})
	assert.InDelta(t, 4+3, capped, 1e-9)
}

func TestBuffers(t *testing.T) {
	assert.True(t, applyBuffer(dec(100), 0.2, false).Equal(dec(99.8)))
	assert.True(t, applyBuffer(dec(100), 0.1, true).Equal(dec(100.1)))
}

func TestAlignATR(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 1, 2}, alignATR([]float64{1, 2}, 4))
}
