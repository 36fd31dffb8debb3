package settlement

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridclear/auction"
	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/ledger"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/types"
	"github.com/gridmesh/gridclear/types/num"
)

var (
	// ErrNoEligiblePair is returned when no bid/ask pair can trade at the
	// clearing price. Once returned for a batch it will be returned forever,
	// with no balance movement.
	ErrNoEligiblePair = errors.New("no eligible pair remaining")
	// ErrBatchNotCleared is returned when settlement is attempted on a batch
	// that is not in a settleable state (still open, or failed). This is a
	// timing/policy violation, never retried automatically.
	ErrBatchNotCleared = errors.New("batch not cleared")
	// ErrEscrowUnderfunded wraps a failed escrow debit. Recoverable: the
	// match was not applied, the scheduler retries the pair next cycle.
	ErrEscrowUnderfunded = errors.New("escrow underfunded")
)

// Engine is the settlement matcher and escrow executor. Each SettleNext call
// performs at most one match at the batch's stored clearing price, moving
// value between the batch vaults and the counterparties' general accounts as
// one atomic pair of transfers.
type Engine struct {
	Config
	log *logging.Logger

	ledger     *ledger.Engine
	auction    *auction.Engine
	collateral *collateral.Engine
	now        func() time.Time

	mu      sync.Mutex
	records []*types.SettlementRecord
}

// New returns a new settlement engine.
func New(log *logging.Logger, conf Config, ldg *ledger.Engine, auc *auction.Engine, col *collateral.Engine) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config:     conf,
		log:        log,
		ledger:     ldg,
		auction:    auc,
		collateral: col,
		now:        time.Now,
	}
}

// ReloadConf updates the internal configuration of the settlement engine.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevelString()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}
	e.Config = cfg
}

// SettleNext executes one match for the batch: the best-priced eligible bid
// against the best-priced eligible ask, for the smaller of their remaining
// quantities, at the stored clearing price. The payment and energy legs
// apply atomically; on a failed transfer nothing moves and the error is
// recoverable. The call that drains the last eligible pair also stamps the
// batch Exhausted and releases residual escrow, so later calls return
// ErrNoEligiblePair without touching any balance.
func (e *Engine) SettleNext(batchID string) (*types.SettlementRecord, error) {
	b, err := e.auction.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	switch b.State {
	case types.BatchStateCleared, types.BatchStateSettling:
	case types.BatchStateExhausted:
		return nil, ErrNoEligiblePair
	case types.BatchStateOpen, types.BatchStateFailed:
		return nil, fmt.Errorf("%w: batch %s is %s", ErrBatchNotCleared, batchID, b.State)
	default:
		return nil, auction.ErrBatchNotFound
	}

	bid, ask, found, err := e.findPair(batchID, b.ClearingPrice)
	if err != nil {
		return nil, err
	}
	if !found {
		// a cleared batch always starts with at least one pair, so this is
		// the drain point
		if err := e.auction.MarkExhausted(batchID); err != nil {
			return nil, err
		}
		return nil, ErrNoEligiblePair
	}

	quantity := bid.Remaining
	if ask.Remaining < quantity {
		quantity = ask.Remaining
	}
	payment := num.UintZero().Mul(b.ClearingPrice, num.NewUint(quantity))

	// the counterparties' credit accounts are in the opposite asset to the
	// one they escrowed, so this may be their first appearance
	sellerAcc := e.collateral.EnsureGeneralAccount(ask.Party, types.AssetPayment)
	buyerAcc := e.collateral.EnsureGeneralAccount(bid.Party, types.AssetEnergy)

	err = e.collateral.TransferPair(
		collateral.Transfer{
			From:   collateral.VaultID(batchID, types.AssetPayment),
			To:     sellerAcc,
			Asset:  types.AssetPayment,
			Amount: payment,
		},
		collateral.Transfer{
			From:   collateral.VaultID(batchID, types.AssetEnergy),
			To:     buyerAcc,
			Asset:  types.AssetEnergy,
			Amount: num.NewUint(quantity),
		},
	)
	if err != nil {
		if errors.Is(err, collateral.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", ErrEscrowUnderfunded, err)
		}
		return nil, err
	}

	if err := e.auction.BeginSettlement(batchID); err != nil {
		return nil, err
	}
	if err := e.ledger.Reduce(batchID, bid.ID, quantity); err != nil {
		return nil, err
	}
	if err := e.ledger.Reduce(batchID, ask.ID, quantity); err != nil {
		return nil, err
	}

	rec := &types.SettlementRecord{
		BatchID:    batchID,
		BidOrderID: bid.ID,
		AskOrderID: ask.ID,
		Buyer:      bid.Party,
		Seller:     ask.Party,
		Quantity:   quantity,
		Price:      b.ClearingPrice.Clone(),
		Timestamp:  e.now(),
	}
	e.mu.Lock()
	e.records = append(e.records, rec)
	e.mu.Unlock()

	e.log.Info("match settled",
		logging.BatchID(batchID),
		logging.String("bid", bid.ID),
		logging.String("ask", ask.ID),
		logging.Uint64("quantity", quantity),
		logging.String("price", b.ClearingPrice.String()),
	)

	// stamp within the same call that drained the last pair, so the next
	// call is a pure no-op
	if _, _, found, err := e.findPair(batchID, b.ClearingPrice); err == nil && !found {
		if err := e.auction.MarkExhausted(batchID); err != nil {
			e.log.Error("unable to stamp batch exhausted",
				logging.BatchID(batchID), logging.Error(err))
		}
	}
	return rec, nil
}

// findPair selects the best-priced eligible bid and ask: bids are visited
// from the highest price down, asks from the lowest up, so the most
// competitively priced orders match first when liquidity is thin.
func (e *Engine) findPair(batchID string, price *num.Uint) (bid, ask *types.Order, found bool, err error) {
	err = e.ledger.DescendBids(batchID, func(o *types.Order) bool {
		if o.Price.LT(price) {
			// bids are price-ordered, nothing below is eligible
			return false
		}
		if o.Remaining > 0 {
			bid = o
			return false
		}
		return true
	})
	if err != nil {
		return nil, nil, false, err
	}
	if bid == nil {
		return nil, nil, false, nil
	}
	err = e.ledger.AscendAsks(batchID, func(o *types.Order) bool {
		if o.Price.GT(price) {
			return false
		}
		if o.Remaining > 0 {
			ask = o
			return false
		}
		return true
	})
	if err != nil {
		return nil, nil, false, err
	}
	if ask == nil {
		return nil, nil, false, nil
	}
	return bid, ask, true, nil
}

// Records returns the settlement records of a batch, in execution order.
func (e *Engine) Records(batchID string) []*types.SettlementRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.SettlementRecord, 0, len(e.records))
	for _, r := range e.records {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out
}
