package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/domain"
)

func trade(symbol string, qty int64, price float64) domain.Trade {
	return domain.Trade{Symbol: symbol, Qty: qty, Price: price}
}

func TestApplyTradeScenario(t *testing.T) {
	l := New()

	f := l.ApplyTrade("acc", trade("X", 100, 50))
	assert.Equal(t, Fill{Size: 100, AvgPrice: 50, Opened: 100}, f)

	f = l.ApplyTrade("acc", trade("X", -40, 55))
	assert.Equal(t, int64(60), f.Size)
	assert.Equal(t, 50.0, f.AvgPrice)
	assert.Equal(t, int64(0), f.Opened)
	assert.Equal(t, int64(40), f.Closed)

	f = l.ApplyTrade("acc", trade("X", -60, 60))
	assert.Equal(t, int64(0), f.Size)
	assert.Equal(t, int64(60), f.Closed)

	p := l.Get("acc", "X")
	assert.True(t, p.Flat())
	assert.Equal(t, 60.0, p.LastPrice)
}

func TestApplyTradeAddsWeighted(t *testing.T) {
	l := New()
	l.ApplyTrade("acc", trade("X", 10, 100))
	f := l.ApplyTrade("acc", trade("X", 30, 120))

	assert.Equal(t, int64(40), f.Size)
	assert.InDelta(t, 115.0, f.AvgPrice, 1e-9)
	assert.Equal(t, int64(30), f.Opened)
}

func TestApplyTradeReversal(t *testing.T) {
	l := New()
	l.ApplyTrade("acc", trade("X", 10, 100))
	f := l.ApplyTrade("acc", trade("X", -25, 90))

	assert.Equal(t, int64(-15), f.Size)
	assert.Equal(t, 90.0, f.AvgPrice, "reversal resets the average to the trade price")
	assert.Equal(t, int64(15), f.Opened)
	assert.Equal(t, int64(10), f.Closed)
}

func TestApplyTradeShortSide(t *testing.T) {
	l := New()
	l.ApplyTrade("acc", trade("X", -10, 100))
	f := l.ApplyTrade("acc", trade("X", -10, 80))
	assert.Equal(t, int64(-20), f.Size)
	assert.InDelta(t, 90.0, f.AvgPrice, 1e-9)

	f = l.ApplyTrade("acc", trade("X", 5, 70))
	assert.Equal(t, int64(-15), f.Size)
	assert.InDelta(t, 90.0, f.AvgPrice, 1e-9)
	assert.Equal(t, int64(5), f.Closed)
}

func TestSizeEqualsSumOfTrades(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		l := New()
		var sum int64
		for i := 0; i < 40; i++ {
			q := int64(rng.Intn(41) - 20)
			sum += q
			f := l.ApplyTrade("acc", trade("X", q, 10+rng.Float64()*5))
			require.Equal(t, sum, f.Size)
			if f.Size == 0 {
				require.Zero(t, f.AvgPrice)
			} else {
				require.Positive(t, f.AvgPrice)
			}
		}
		require.Equal(t, sum, l.Get("acc", "X").Qty)
	}
}

func TestGetUnknownIsZero(t *testing.T) {
	l := New()
	p := l.Get("acc", "NEVER")
	assert.Equal(t, int64(0), p.Qty)
	assert.Equal(t, 0.0, p.AvgPrice)
	assert.Equal(t, "NEVER", p.Symbol)

	l.MarkPrice("NEVER", 12.5)
	assert.Equal(t, 12.5, l.Get("acc", "NEVER").LastPrice)
}

func TestPositionsAreAccountScoped(t *testing.T) {
	l := New()
	l.ApplyTrade("a", trade("X", 5, 10))
	l.ApplyTrade("b", trade("X", -3, 11))
	assert.Equal(t, int64(5), l.Get("a", "X").Qty)
	assert.Equal(t, int64(-3), l.Get("b", "X").Qty)
	assert.Len(t, l.Positions("a"), 1)
}

func TestSnapshotOverwrites(t *testing.T) {
	l := New()
	l.ApplyTrade("acc", trade("X", 10, 100))
	p := l.Snapshot("acc", "X", 25, 104)
	assert.Equal(t, int64(25), p.Qty)
	assert.Equal(t, 104.0, p.AvgPrice)

	f := l.ApplyTrade("acc", trade("X", -5, 110))
	assert.Equal(t, int64(20), f.Size)
	assert.Equal(t, 104.0, f.AvgPrice)

	p = l.Snapshot("acc", "X", 0, 104)
	assert.True(t, p.Flat())
	assert.Zero(t, p.AvgPrice)
}

func TestValue(t *testing.T) {
	l := New()
	l.ApplyTrade("acc", trade("X", 10, 100))
	l.ApplyTrade("acc", trade("Y", -2, 50))
	l.MarkPrice("X", 110)

	assert.InDelta(t, 1000.0, l.Value("acc"), 1e-9)
	assert.InDelta(t, 1100.0, l.Value("acc", "X"), 1e-9)
	assert.Empty(t, l.Positions("other"))
}
