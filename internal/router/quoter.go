package router

import (
	"context"
	"math/rand/v2"
	"time"

	"main/internal/model"
)

// Quoter produces a fresh quote for a token pair. Quotes are never
// cached across orders.
type Quoter interface {
	Dex() model.Dex
	Quote(ctx context.Context, baseToken, quoteToken string, amountIn float64) (model.Quote, error)
}

// mockVenue simulates a liquidity venue with randomized latency and a
// price drawn from a band around a base price.
type mockVenue struct {
	dex       model.Dex
	basePrice float64
	bandLow   float64
	bandSpan  float64
	fee       float64
	delayMin  time.Duration
	delaySpan time.Duration
}

const defaultBasePrice = 100

// NewRaydium returns the raydium mock venue: 200-400ms latency,
// 0.98-1.02x price band, 30bps fee.
func NewRaydium() Quoter {
	return &mockVenue{
		dex:       model.DexRaydium,
		basePrice: defaultBasePrice,
		bandLow:   0.98,
		bandSpan:  0.04,
		fee:       0.003,
		delayMin:  200 * time.Millisecond,
		delaySpan: 200 * time.Millisecond,
	}
}

// NewMeteora returns the meteora mock venue: 200-400ms latency,
// 0.97-1.02x price band, 20bps fee.
func NewMeteora() Quoter {
	return &mockVenue{
		dex:       model.DexMeteora,
		basePrice: defaultBasePrice,
		bandLow:   0.97,
		bandSpan:  0.05,
		fee:       0.002,
		delayMin:  200 * time.Millisecond,
		delaySpan: 200 * time.Millisecond,
	}
}

func (v *mockVenue) Dex() model.Dex { return v.dex }

func (v *mockVenue) Quote(ctx context.Context, _, _ string, _ float64) (model.Quote, error) {
	delay := v.delayMin + time.Duration(rand.Float64()*float64(v.delaySpan))
	if err := sleep(ctx, delay); err != nil {
		return model.Quote{}, err
	}
	price := v.basePrice * (v.bandLow + rand.Float64()*v.bandSpan)
	return model.Quote{Dex: v.dex, Price: price, Fee: v.fee}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
