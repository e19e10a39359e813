package structure

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/topdown/internal/domain"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func barAt(tf domain.Timeframe, start time.Time, i int, o, h, l, c float64) domain.Candle {
	open := start.Add(time.Duration(i) * tf.Duration())
	return domain.Candle{
		Timeframe: tf,
		OpenTime:  open,
		Open:      dec(o),
		High:      dec(h),
		Low:       dec(l),
		Close:     dec(c),
		Volume:    decimal.NewFromInt(1),
		CloseTime: open.Add(tf.Duration()),
	}
}

// zigzag trending triangle wave with a period of 12 bars: peaks at i%12 == 6, troughs at i%12 == 0.
func zigzag(tf domain.Timeframe, n int, start, slope, amp float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		tri := 1 - math.Abs(float64(i%12)-6)/6
		v := start + slope*float64(i) + amp*tri
		out[i] = barAt(tf, epoch, i, v, v+1, v-1, v)
	}
	return out
}

func flat(tf domain.Timeframe, start time.Time, n int, price, halfRange float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = barAt(tf, start, i, price, price+halfRange, price-halfRange, price)
	}
	return out
}

var btc = domain.Pair{From: "BTC", To: "USDT"}

func btcParams() AssetParams {
	return AssetParams{Pair: btc, Stake: decimal.NewFromInt(10), Multiplier: decimal.NewFromInt(160)}
}
