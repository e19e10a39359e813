package structure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/topdown/internal/domain"
)

// breakoutDaily swing high at 110 (bar 2) broken by the close of bar 6 and
// never revisited; swing low at 100 (bar 4) never broken, touched three times.
func breakoutDaily() []domain.Candle {
	rows := [][4]float64{
		{100, 101, 99, 100},
		{100, 103, 100, 102},
		{102, 110, 104, 105},
		{105, 106, 101, 102},
		{102, 104, 100, 101},
		{101, 108, 101, 107},
		{107, 116, 107, 115},
		{115, 120, 114, 119},
		{119, 125, 118, 124},
		{124, 130, 123, 129},
	}
	out := make([]domain.Candle, len(rows))
	for i, r := range rows {
		out[i] = barAt(domain.Timeframe1d, epoch, i, r[0], r[1], r[2], r[3])
	}
	return out
}

func levelAt(levels []domain.Level, price float64) (domain.Level, bool) {
	for _, l := range levels {
		if l.Price.Equal(dec(price)) {
			return l, true
		}
	}
	return domain.Level{}, false
}

func bookConfig() Config {
	cfg := DefaultConfig()
	cfg.SwingWindow = 2
	return cfg
}

func TestLevelBook_Classification(t *testing.T) {
	daily := breakoutDaily()
	book := NewLevelBook(bookConfig())
	book.Update(domain.Frames{domain.Timeframe1d: daily}, epoch)

	levels := book.Levels()
	require.Len(t, levels, 2)

	support, ok := levelAt(levels, 100)
	require.True(t, ok)
	assert.Equal(t, domain.LevelTested, support.Kind)
	assert.Equal(t, domain.Timeframe1d, support.Origin)
	assert.True(t, support.BrokenAt.IsZero())

	broken, ok := levelAt(levels, 110)
	require.True(t, ok)
	assert.Equal(t, domain.LevelUntested, broken.Kind)
	assert.Equal(t, daily[6].CloseTime, broken.BrokenAt)
	assert.Equal(t, daily[2].OpenTime, broken.FirstSeen)
}

func TestLevelBook_RevisitMarksTested(t *testing.T) {
	daily := breakoutDaily()
	book := NewLevelBook(bookConfig())
	book.Update(domain.Frames{domain.Timeframe1d: daily}, epoch)

	before := daily[6].CloseTime.Add(-time.Hour)
	book.Update(domain.Frames{
		domain.Timeframe1d: daily,
		domain.Timeframe1m: {barAt(domain.Timeframe1m, before, 0, 110, 110.1, 109.9, 110)},
	}, epoch)
	l, _ := levelAt(book.Levels(), 110)
	assert.Equal(t, domain.LevelUntested, l.Kind, "touch before the break does not count")

	after := daily[9].CloseTime
	book.Update(domain.Frames{
		domain.Timeframe1d: daily,
		domain.Timeframe1m: {barAt(domain.Timeframe1m, after, 0, 111, 111.5, 110.1, 111)},
	}, epoch)
	l, _ = levelAt(book.Levels(), 110)
	assert.Equal(t, domain.LevelTested, l.Kind)

	// the daily series alone still classifies 110 as untested; the book must not revert
	book.Update(domain.Frames{domain.Timeframe1d: daily}, epoch)
	l, _ = levelAt(book.Levels(), 110)
	assert.Equal(t, domain.LevelTested, l.Kind)
	assert.Len(t, book.Levels(), 2)
}

func TestLevelBook_Merge(t *testing.T) {
	t.Run("equivalent level is not re-created", func(t *testing.T) {
		book := NewLevelBook(DefaultConfig())
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelUntested})
		book.merge(domain.Level{Price: dec(100.1), Kind: domain.LevelUntested})
		assert.Len(t, book.Levels(), 1)

		book.merge(domain.Level{Price: dec(101), Kind: domain.LevelUntested})
		assert.Len(t, book.Levels(), 2)
	})

	t.Run("tested never reverts", func(t *testing.T) {
		book := NewLevelBook(DefaultConfig())
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelUntested})
		book.merge(domain.Level{Price: dec(100.05), Kind: domain.LevelTested})
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelUntested})

		levels := book.Levels()
		require.Len(t, levels, 1)
		assert.Equal(t, domain.LevelTested, levels[0].Kind)
	})

	t.Run("minor promoted to major", func(t *testing.T) {
		brokenAt := epoch.Add(time.Hour)
		book := NewLevelBook(DefaultConfig())
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelMinor, Origin: domain.Timeframe1h})
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelUntested, Origin: domain.Timeframe4h, BrokenAt: brokenAt})

		levels := book.Levels()
		require.Len(t, levels, 1)
		assert.Equal(t, domain.LevelUntested, levels[0].Kind)
		assert.Equal(t, domain.Timeframe4h, levels[0].Origin)
		assert.Equal(t, brokenAt, levels[0].BrokenAt)
	})

	t.Run("major is not demoted to minor", func(t *testing.T) {
		book := NewLevelBook(DefaultConfig())
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelTested})
		book.merge(domain.Level{Price: dec(100), Kind: domain.LevelMinor})
		assert.Equal(t, domain.LevelTested, book.Levels()[0].Kind)
	})
}

func TestLevelBook_MinorLevels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinorLookback = 5
	book := NewLevelBook(cfg)

	hourly := flat(domain.Timeframe1h, epoch, 10, 100, 1)
	book.Update(domain.Frames{domain.Timeframe1h: hourly}, epoch)

	levels := book.Levels()
	require.Len(t, levels, 2)
	for _, l := range levels {
		assert.Equal(t, domain.LevelMinor, l.Kind)
		assert.Equal(t, domain.Timeframe1h, l.Origin)
	}
	assert.True(t, levels[0].Price.Equal(dec(99)))
	assert.True(t, levels[1].Price.Equal(dec(101)))
}

func TestLevelBook_Trim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLevels = 2
	book := NewLevelBook(cfg)
	book.levels = []domain.Level{
		{Price: dec(100), Kind: domain.LevelUntested, FirstSeen: epoch},
		{Price: dec(110), Kind: domain.LevelMinor, FirstSeen: epoch.Add(time.Hour)},
		{Price: dec(120), Kind: domain.LevelTested, FirstSeen: epoch},
	}
	book.trim()

	levels := book.Levels()
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(dec(100)))
	assert.True(t, levels[1].Price.Equal(dec(120)))
}
