package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"main/internal/model"
)

type stubQuoter struct {
	dex   model.Dex
	price float64
	fee   float64
	delay time.Duration
	err   error
}

func (q *stubQuoter) Dex() model.Dex { return q.dex }

func (q *stubQuoter) Quote(ctx context.Context, _, _ string, _ float64) (model.Quote, error) {
	if q.delay > 0 {
		if err := sleep(ctx, q.delay); err != nil {
			return model.Quote{}, err
		}
	}
	if q.err != nil {
		return model.Quote{}, q.err
	}
	return model.Quote{Dex: q.dex, Price: q.price, Fee: q.fee}, nil
}

func TestChooseBest(t *testing.T) {
	raydium := model.Quote{Dex: model.DexRaydium, Price: 101}
	meteora := model.Quote{Dex: model.DexMeteora, Price: 99}
	even := model.Quote{Dex: model.DexMeteora, Price: 101}

	testCases := []struct {
		desc string
		side model.Side
		a, b model.Quote
		want model.Dex
	}{
		{"sell takes higher price", model.SideSell, raydium, meteora, model.DexRaydium},
		{"sell takes higher price reversed", model.SideSell, meteora, raydium, model.DexRaydium},
		{"buy takes lower price", model.SideBuy, raydium, meteora, model.DexMeteora},
		{"buy takes lower price reversed", model.SideBuy, meteora, raydium, model.DexMeteora},
		{"sell tie goes to first listed", model.SideSell, raydium, even, model.DexRaydium},
		{"buy tie goes to first listed", model.SideBuy, raydium, even, model.DexRaydium},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			best := ChooseBest(tc.side, tc.a, tc.b)
			if best.Dex != tc.want {
				t.Fatalf("got %s want %s", best.Dex, tc.want)
			}
		})
	}
}

func TestMinAcceptablePrice(t *testing.T) {
	testCases := []struct {
		desc        string
		side        model.Side
		price       float64
		slippageBps int
		want        float64
	}{
		{"sell 1% under", model.SideSell, 100, 100, 99},
		{"buy 2% over", model.SideBuy, 100, 200, 102},
		{"zero slippage sell", model.SideSell, 100, 0, 100},
		{"zero slippage buy", model.SideBuy, 250, 0, 250},
		{"sell fractional price", model.SideSell, 2.5, 100, 2.475},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := MinAcceptablePrice(tc.side, tc.price, tc.slippageBps)
			if got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestQuotesJoinsBothVenues(t *testing.T) {
	a := &stubQuoter{dex: model.DexRaydium, price: 101, fee: 0.003, delay: 10 * time.Millisecond}
	b := &stubQuoter{dex: model.DexMeteora, price: 99, fee: 0.002, delay: 30 * time.Millisecond}
	r := New(zap.NewNop(), a, b)

	quotes, err := r.Quotes(t.Context(), "A", "B", 10)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	// results keep venue order regardless of completion order
	assert.Equal(t, model.DexRaydium, quotes[0].Dex)
	assert.Equal(t, model.DexMeteora, quotes[1].Dex)
}

func TestQuotesPropagatesError(t *testing.T) {
	a := &stubQuoter{dex: model.DexRaydium, price: 101}
	b := &stubQuoter{dex: model.DexMeteora, err: errors.New("venue unavailable")}
	r := New(zap.NewNop(), a, b)

	_, err := r.Quotes(t.Context(), "A", "B", 10)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "meteora"), "error should name the venue: %v", err)
}

func TestExecuteTimesOut(t *testing.T) {
	r := New(zap.NewNop())
	r.ExecDelayMin = 5 * time.Second
	r.ExecDelayMax = 5 * time.Second

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, model.DexRaydium, 100)
	require.ErrorIs(t, err, ErrExecutionTimeout)
}

func TestExecuteReturnsResult(t *testing.T) {
	r := New(zap.NewNop())
	r.ExecDelayMin = 0
	r.ExecDelayMax = 0

	res, err := r.Execute(t.Context(), model.DexMeteora, 99.5)
	require.NoError(t, err)
	assert.Equal(t, model.DexMeteora, res.Dex)
	assert.Equal(t, 99.5, res.ExecutedPrice)
	assert.True(t, strings.HasPrefix(res.TxHash, "mock-tx-meteora-"), "tx hash %q", res.TxHash)
}

func TestMockVenueQuoteWithinBand(t *testing.T) {
	venue := NewRaydium().(*mockVenue)
	venue.delayMin = 0
	venue.delaySpan = 0

	for i := 0; i < 20; i++ {
		q, err := venue.Quote(t.Context(), "A", "B", 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.Price, 98.0)
		assert.LessOrEqual(t, q.Price, 102.0)
		assert.Equal(t, 0.003, q.Fee)
	}
}
