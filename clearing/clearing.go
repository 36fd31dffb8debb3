// Package clearing implements uniform-price call-market clearing: one price
// per batch, chosen to maximize matchable volume. Everything in here is pure,
// resolution runs it exactly once per batch and must get the same answer on
// a retry.
package clearing

import (
	"errors"
	"sort"

	"github.com/gridmesh/gridclear/types"
	"github.com/gridmesh/gridclear/types/num"
)

var (
	// ErrNoTrade indicates no price point crosses any volume (no bids, no
	// asks, or bid/ask prices never overlap). The batch fails, no settlement
	// runs.
	ErrNoTrade = errors.New("no crossing volume")
	// ErrPriceOutOfBand indicates the volume-maximizing price falls outside
	// the oracle's admissible band. The batch fails rather than clearing at
	// an out-of-band price.
	ErrPriceOutOfBand = errors.New("clearing price outside oracle band")
)

// Result is the outcome of a clearing computation.
type Result struct {
	// Price is the uniform clearing price, zero when no trade is possible.
	Price *num.Uint
	// Volume is the total matchable quantity at Price.
	Volume uint64
}

// Price computes the clearing price for a batch's order set.
//
// Candidate prices are the distinct limit prices present in the book. For
// each candidate p the matchable volume is min(Σ bid quantity priced >= p,
// Σ ask quantity priced <= p); the candidate maximizing that volume wins.
// Among equal-volume candidates the one closest to the oracle's reference
// price is chosen, and on an exact distance tie the lower price, so the
// outcome is deterministic for identical inputs.
func Price(orders []*types.Order, minPrice, maxPrice *num.Uint, reference num.Decimal) (Result, error) {
	bids, asks := split(orders)
	if len(bids) == 0 || len(asks) == 0 {
		return Result{Price: num.UintZero()}, ErrNoTrade
	}

	candidates := candidatePrices(orders)

	var (
		best       *num.Uint
		bestVolume uint64
		bestDist   num.Decimal
	)
	for _, p := range candidates {
		var demand, supply uint64
		for _, b := range bids {
			if b.Price.GTE(p) {
				demand += b.Remaining
			}
		}
		for _, a := range asks {
			if a.Price.LTE(p) {
				supply += a.Remaining
			}
		}
		volume := min(demand, supply)
		if volume == 0 {
			continue
		}
		dist := num.AbsDeltaD(p.ToDecimal(), reference)
		switch {
		case volume > bestVolume:
			best, bestVolume, bestDist = p, volume, dist
		case volume == bestVolume && dist.LessThan(bestDist):
			best, bestDist = p, dist
		case volume == bestVolume && dist.Equal(bestDist) && p.LT(best):
			best = p
		}
	}

	if best == nil {
		return Result{Price: num.UintZero()}, ErrNoTrade
	}
	if best.LT(minPrice) || best.GT(maxPrice) {
		return Result{Price: best.Clone(), Volume: bestVolume}, ErrPriceOutOfBand
	}
	return Result{Price: best.Clone(), Volume: bestVolume}, nil
}

func split(orders []*types.Order) (bids, asks []*types.Order) {
	for _, o := range orders {
		if o.Remaining == 0 {
			continue
		}
		switch o.Side {
		case types.SideBid:
			bids = append(bids, o)
		case types.SideAsk:
			asks = append(asks, o)
		}
	}
	return bids, asks
}

// candidatePrices returns the distinct order prices sorted ascending.
func candidatePrices(orders []*types.Order) []*num.Uint {
	seen := map[string]struct{}{}
	out := make([]*num.Uint, 0, len(orders))
	for _, o := range orders {
		if o.Remaining == 0 {
			continue
		}
		k := o.Price.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o.Price.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LT(out[j]) })
	return out
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
