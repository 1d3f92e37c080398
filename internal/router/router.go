package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"main/internal/model"
)

// ErrExecutionTimeout reports that the venue execution call outlived its
// deadline. The call itself is never retried once issued.
var ErrExecutionTimeout = errors.New("execution timeout")

// Router fetches concurrent quotes from the configured venues and
// executes swaps against the selected one.
type Router struct {
	venues []Quoter
	log    *zap.Logger

	// ExecDelayMin/Max bound the simulated swap duration. Tests shrink
	// them to zero.
	ExecDelayMin time.Duration
	ExecDelayMax time.Duration
}

// New builds a router over the given venues; with none given it uses
// raydium and meteora. Tie-breaks favor the first-listed venue.
func New(log *zap.Logger, venues ...Quoter) *Router {
	if len(venues) == 0 {
		venues = []Quoter{NewRaydium(), NewMeteora()}
	}
	return &Router{
		venues:       venues,
		log:          log,
		ExecDelayMin: 10 * time.Second,
		ExecDelayMax: 12 * time.Second,
	}
}

// Quotes fetches one quote per venue in parallel and joins them all
// before returning; the first error wins. Results keep venue order.
func (r *Router) Quotes(ctx context.Context, baseToken, quoteToken string, amountIn float64) ([]model.Quote, error) {
	quotes := make([]model.Quote, len(r.venues))
	errs := make([]error, len(r.venues))

	done := make(chan int, len(r.venues))
	for i, venue := range r.venues {
		go func(i int, venue Quoter) {
			quotes[i], errs[i] = venue.Quote(ctx, baseToken, quoteToken, amountIn)
			done <- i
		}(i, venue)
	}
	for range r.venues {
		<-done
	}

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", r.venues[i].Dex(), err)
		}
	}
	return quotes, nil
}

// ChooseBest picks the best-execution quote for the order side: sellers
// take the higher price, buyers the lower. Exact ties go to the
// first-listed quote. Fees are informational at this stage.
func ChooseBest(side model.Side, a, b model.Quote) model.Quote {
	if side == model.SideSell {
		if a.Price >= b.Price {
			return a
		}
		return b
	}
	if a.Price <= b.Price {
		return a
	}
	return b
}

// MinAcceptablePrice derives the slippage bound from the selected quote:
// sell price*(1-bps/10000), buy price*(1+bps/10000). Computed in decimal
// so literal inputs give exact bounds.
func MinAcceptablePrice(side model.Side, price float64, slippageBps int) float64 {
	p := decimal.NewFromFloat(price)
	frac := decimal.New(int64(slippageBps), -4)

	var bound decimal.Decimal
	if side == model.SideSell {
		bound = p.Mul(decimal.NewFromInt(1).Sub(frac))
	} else {
		bound = p.Mul(decimal.NewFromInt(1).Add(frac))
	}
	f, _ := bound.Float64()
	return f
}

// Execute performs the single, non-idempotent swap attempt against the
// selected venue. It honors ctx cancellation; a deadline expiry maps to
// ErrExecutionTimeout so the order fails instead of pinning a worker.
func (r *Router) Execute(ctx context.Context, dex model.Dex, price float64) (model.ExecutionResult, error) {
	delay := r.ExecDelayMin
	if span := r.ExecDelayMax - r.ExecDelayMin; span > 0 {
		delay += time.Duration(rand.Float64() * float64(span))
	}
	if err := sleep(ctx, delay); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ExecutionResult{}, ErrExecutionTimeout
		}
		return model.ExecutionResult{}, err
	}

	res := model.ExecutionResult{
		Dex:           dex,
		TxHash:        mockTxHash(dex),
		ExecutedPrice: price,
	}
	r.log.Info("executed swap",
		zap.String("dex", string(dex)),
		zap.String("txHash", res.TxHash),
		zap.Float64("executedPrice", price))
	return res, nil
}

func mockTxHash(dex model.Dex) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("mock-tx-%s-%s", dex, suffix)
}
