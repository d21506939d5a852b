package bar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/internal/tick"
)

func mustDelimiter(t *testing.T, descriptor string) Delimiter {
	t.Helper()
	d, err := ParseDelimiter(descriptor)
	require.NoError(t, err)
	return d
}

func assertBarInvariants(t *testing.T, b *Bar) {
	t.Helper()
	sum := 0.0
	for _, c := range b.Clusters {
		sum += c.Volume
		assert.InDelta(t, c.AskVolume-c.BidVolume, c.VolumeDelta, 1e-9)
	}
	assert.InDelta(t, b.Volume, sum, 1e-9, "bar %d cluster volume", b.ID)
	assert.InDelta(t, b.AskVolume-b.BidVolume, b.VolumeDelta, 1e-9, "bar %d volume delta", b.ID)
}

func TestVolumeBarsEndToEnd(t *testing.T) {
	agg := NewAggregator(mustDelimiter(t, "volume:1000"))

	var closed []*Bar
	agg.OnClose(func(b *Bar, _ []*Bar) { closed = append(closed, b) })

	for i := 0; i < 100; i++ {
		price := 100 + float64(i)*0.01
		require.NoError(t, agg.Supply(tick.Tick{
			ID: uint64(i + 1), Price: price, Qty: 100, QuoteQty: price * 100,
			Time: int64(1_700_000_000_000 + i), IsBuyerMaker: i%3 == 0,
		}))
	}

	require.Len(t, closed, 10)
	for n, b := range closed {
		first := 100 + float64(n*10)*0.01
		last := 100 + float64(n*10+9)*0.01
		assert.InDelta(t, 1000, b.Volume, 1e-9)
		assert.Equal(t, 10, b.TickCount)
		assert.InDelta(t, first, b.Open, 1e-9)
		assert.InDelta(t, last, b.Close, 1e-9)
		assert.InDelta(t, first, b.Low, 1e-9)
		assert.InDelta(t, last, b.High, 1e-9)
		assert.True(t, b.Closed)
		assertBarInvariants(t, b)
	}
	assert.True(t, agg.Current().Empty())
}

func TestVolumeExactFillProducesNoOverflow(t *testing.T) {
	agg := NewAggregator(VolumeDelimiter{Size: 10})
	require.NoError(t, agg.Supply(tick.Tick{ID: 1, Price: 1, Qty: 4, QuoteQty: 4, Time: 1}))
	require.NoError(t, agg.Supply(tick.Tick{ID: 2, Price: 1, Qty: 6, QuoteQty: 6, Time: 2}))

	require.Len(t, agg.Bars(), 1)
	assert.InDelta(t, 10, agg.Bars()[0].Volume, 1e-12)
	assert.True(t, agg.Current().Empty())
	assert.Zero(t, agg.Current().Volume)
}

func TestVolumeOverflowCarriesIntoNextBar(t *testing.T) {
	agg := NewAggregator(VolumeDelimiter{Size: 10})
	require.NoError(t, agg.Supply(tick.Tick{ID: 1, Price: 2, Qty: 8, QuoteQty: 16, Time: 1}))
	require.NoError(t, agg.Supply(tick.Tick{ID: 2, Price: 3, Qty: 5, QuoteQty: 15, Time: 2, IsBuyerMaker: true}))

	require.Len(t, agg.Bars(), 1)
	first := agg.Bars()[0]
	assert.InDelta(t, 10, first.Volume, 1e-12)
	assert.InDelta(t, 16+2*3, first.QuoteVolume, 1e-12)

	next := agg.Current()
	assert.InDelta(t, 3, next.Volume, 1e-12)
	assert.InDelta(t, 9, next.QuoteVolume, 1e-12)
	assert.Equal(t, 1, next.TickCount)
	assert.InDelta(t, 3, next.BidVolume, 1e-12)
	assert.InDelta(t, first.Volume+next.Volume, 13, 1e-12)
}

func TestOversizedTickSpansSeveralBars(t *testing.T) {
	agg := NewAggregator(VolumeDelimiter{Size: 10})
	require.NoError(t, agg.Supply(tick.Tick{ID: 1, Price: 1, Qty: 35, QuoteQty: 35, Time: 1}))

	require.Len(t, agg.Bars(), 3)
	for _, b := range agg.Bars() {
		assert.InDelta(t, 10, b.Volume, 1e-12)
	}
	assert.InDelta(t, 5, agg.Current().Volume, 1e-12)
}

func TestTimeBoundaryIsInclusive(t *testing.T) {
	const size = 60_000
	agg := NewAggregator(TimeDelimiter{Size: size})
	require.NoError(t, agg.Supply(tick.Tick{ID: 1, Price: 10, Qty: 1, QuoteQty: 10, Time: 1_000}))
	require.NoError(t, agg.Supply(tick.Tick{ID: 2, Price: 11, Qty: 1, QuoteQty: 11, Time: 1_000 + size}))
	assert.Empty(t, agg.Bars())
	assert.Equal(t, 2, agg.Current().TickCount)

	require.NoError(t, agg.Supply(tick.Tick{ID: 3, Price: 12, Qty: 1, QuoteQty: 12, Time: 1_000 + size + 1}))
	require.Len(t, agg.Bars(), 1)
	assert.Equal(t, 2, agg.Bars()[0].TickCount)
	assert.Equal(t, int64(1_000+size+1), agg.Current().Time)
}

func TestCVDCarriesAcrossBars(t *testing.T) {
	agg := NewAggregator(TickDelimiter{Size: 2})
	require.NoError(t, agg.Supply(tick.Tick{ID: 1, Price: 10, Qty: 3, QuoteQty: 30, Time: 1}))
	require.NoError(t, agg.Supply(tick.Tick{ID: 2, Price: 10, Qty: 1, QuoteQty: 10, Time: 2, IsBuyerMaker: true}))
	require.NoError(t, agg.Supply(tick.Tick{ID: 3, Price: 10, Qty: 5, QuoteQty: 50, Time: 3, IsBuyerMaker: true}))

	require.Len(t, agg.Bars(), 1)
	assert.InDelta(t, 2, agg.Bars()[0].CVD, 1e-12)
	assert.InDelta(t, -3, agg.Current().CVD, 1e-12)
	assert.InDelta(t, -5, agg.Current().VolumeDelta, 1e-12)
}

func TestCloseClassifiesWicksAndPOC(t *testing.T) {
	agg := NewAggregator(TickDelimiter{Size: 5})
	feed := []tick.Tick{
		{ID: 1, Price: 10.00, Qty: 1},
		{ID: 2, Price: 9.90, Qty: 2, IsBuyerMaker: true},
		{ID: 3, Price: 10.20, Qty: 7},
		{ID: 4, Price: 10.30, Qty: 1, IsBuyerMaker: true},
		{ID: 5, Price: 10.10, Qty: 4, IsBuyerMaker: true},
	}
	for _, tk := range feed {
		tk.QuoteQty = tk.Price * tk.Qty
		require.NoError(t, agg.Supply(tk))
	}
	require.Len(t, agg.Bars(), 1)
	b := agg.Bars()[0]
	require.True(t, b.Bullish())

	assert.Equal(t, PositionLowerWick, b.Clusters[9.9].Position)
	assert.Equal(t, PositionBody, b.Clusters[10.0].Position)
	assert.Equal(t, PositionBody, b.Clusters[10.1].Position)
	assert.Equal(t, PositionUpperWick, b.Clusters[10.2].Position)
	assert.Equal(t, PositionUpperWick, b.Clusters[10.3].Position)

	assert.Equal(t, 10.2, b.POC)
	assert.Equal(t, 10.2, b.POCAsk)
	assert.Equal(t, 10.1, b.POCBid)
	assertBarInvariants(t, b)
}

func TestBearishWicks(t *testing.T) {
	agg := NewAggregator(TickDelimiter{Size: 3})
	for i, p := range []float64{10.0, 10.5, 9.5} {
		require.NoError(t, agg.Supply(tick.Tick{ID: uint64(i + 1), Price: p, Qty: 1, QuoteQty: p}))
	}
	b := agg.Bars()[0]
	require.True(t, b.Bearish())
	assert.Equal(t, PositionUpperWick, b.Clusters[10.5].Position)
	assert.Equal(t, PositionBody, b.Clusters[10.0].Position)
	assert.Equal(t, PositionBody, b.Clusters[9.5].Position)
}

func TestObserversRunInRegistrationOrder(t *testing.T) {
	agg := NewAggregator(TickDelimiter{Size: 1})
	var calls []string
	agg.OnClose(func(b *Bar, h []*Bar) {
		calls = append(calls, "first")
		assert.Same(t, b, h[len(h)-1])
	})
	agg.OnClose(func(*Bar, []*Bar) { calls = append(calls, "second") })

	require.NoError(t, agg.Supply(tick.Tick{ID: 1, Price: 1, Qty: 1, QuoteQty: 1}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRefitScoresClusters(t *testing.T) {
	const day = int64(24 * 60 * 60 * 1000)
	agg := NewAggregator(TickDelimiter{Size: 1}, WithRefitInterval(day))

	// Day one: a spread of small clusters fixes the volume distribution.
	for i := 0; i < 20; i++ {
		q := 1 + float64(i%4)
		require.NoError(t, agg.Supply(tick.Tick{ID: uint64(i + 1), Price: 10 + float64(i)*0.01, Qty: q, QuoteQty: q * 10, Time: int64(i)}))
	}
	// Two days later the next close triggers a refit.
	require.NoError(t, agg.Supply(tick.Tick{ID: 21, Price: 10, Qty: 1, QuoteQty: 10, Time: 2 * day}))
	require.False(t, agg.Scorers().Volume.Neutral())

	require.NoError(t, agg.Supply(tick.Tick{ID: 22, Price: 11, Qty: 50, QuoteQty: 550, Time: 2*day + 1}))
	b := agg.Previous()
	require.NotNil(t, b.Top())
	assert.Greater(t, b.Top().AnomalyScore, 5.0)
}

func TestSupplyRejectsInvalidTicks(t *testing.T) {
	agg := NewAggregator(VolumeDelimiter{Size: 10})
	assert.ErrorIs(t, agg.Supply(tick.Tick{Price: 0, Qty: 1}), ErrInvalidTick)
	assert.ErrorIs(t, agg.Supply(tick.Tick{Price: 1, Qty: -1}), ErrInvalidTick)
	assert.ErrorIs(t, agg.Supply(tick.Tick{Price: math.NaN(), Qty: 1}), ErrInvalidTick)
}

func TestHistoryLimit(t *testing.T) {
	agg := NewAggregator(TickDelimiter{Size: 1}, WithHistoryLimit(3))
	for i := 1; i <= 10; i++ {
		require.NoError(t, agg.Supply(tick.Tick{ID: uint64(i), Price: 1, Qty: 1, QuoteQty: 1, Time: int64(i)}))
	}
	require.Len(t, agg.Bars(), 3)
	assert.EqualValues(t, 8, agg.Bars()[0].ID)
	assert.EqualValues(t, 10, agg.Previous().ID)
}

func TestRefitUsesRetainedBarsOnly(t *testing.T) {
	agg := NewAggregator(TickDelimiter{Size: 1}, WithHistoryLimit(3), WithRefitInterval(math.MaxInt64))
	for i := 1; i <= 10; i++ {
		q := float64(i)
		require.NoError(t, agg.Supply(tick.Tick{ID: uint64(i), Price: 1 + q, Qty: q, QuoteQty: q, Time: int64(i)}))
	}
	require.True(t, agg.Scorers().Volume.Neutral())

	agg.Refit()
	s := agg.Scorers().Volume
	assert.Equal(t, 3, s.Samples())
	assert.InDelta(t, 9, s.Mean(), 1e-12)
}

func TestRoundDown(t *testing.T) {
	tests := []struct {
		price, step, want float64
	}{
		{25.43, 0.01, 25.43},
		{25.439, 0.01, 25.43},
		{0.99, 0.001, 0.99},
		{100, 0.5, 100},
		{100.74, 0.5, 100.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundDown(tt.price, tt.step), "RoundDown(%v, %v)", tt.price, tt.step)
	}
}
