package auction

import (
	"errors"
	"sort"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/gridmesh/gridclear/clearing"
	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/ledger"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/types"
	"github.com/gridmesh/gridclear/types/num"
)

var (
	// ErrBatchNotFound is returned when the batch id is unknown.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchClosed is returned on a submission to a batch whose window has
	// closed or that already left the Open state.
	ErrBatchClosed = errors.New("batch closed")
	// ErrInvalidQuantity is returned on a submission with quantity zero.
	ErrInvalidQuantity = errors.New("invalid order quantity")
	// ErrInvalidPrice is returned on a submission without a positive price.
	ErrInvalidPrice = errors.New("invalid order price")
	// ErrNotYetExpired is returned when resolution is attempted before the
	// batch's end time.
	ErrNotYetExpired = errors.New("batch not yet expired")
	// ErrInvalidWindow is returned when a batch would close before it opens.
	ErrInvalidWindow = errors.New("invalid batch window")
	// ErrNotOwner is returned when a party cancels an order it does not own.
	ErrNotOwner = errors.New("party does not own order")
)

// Oracle is the slice of the pricing engine the auction engine consumes: the
// admissible clearing band and the reference price for tie-breaks.
type Oracle interface {
	Band() (min, max *num.Uint)
	LastPrice() num.Decimal
}

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Engine owns batch lifecycles: it opens batches, admits orders into the
// ledger with their escrow funding, and drives the Open → Cleared/Failed
// transition at expiry. Settlement-phase transitions are requested by the
// settlement engine through BeginSettlement and MarkExhausted, with
// exhaustive state checks at every site.
type Engine struct {
	Config
	log *logging.Logger

	ledger      *ledger.Engine
	collateral  *collateral.Engine
	oracle      Oracle
	timeService TimeService

	mu      sync.RWMutex
	batches map[string]*types.AuctionBatch
}

// New returns a new auction engine.
func New(log *logging.Logger, conf Config, ldg *ledger.Engine, col *collateral.Engine, oracle Oracle, timeService TimeService) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config:      conf,
		log:         log,
		ledger:      ldg,
		collateral:  col,
		oracle:      oracle,
		timeService: timeService,
		batches:     map[string]*types.AuctionBatch{},
	}
}

// ReloadConf updates the internal configuration of the auction engine.
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

// OpenBatch creates a new batch accepting orders over [open, end).
func (e *Engine) OpenBatch(open, end time.Time) (*types.AuctionBatch, error) {
	if !end.After(open) {
		return nil, ErrInvalidWindow
	}
	b := &types.AuctionBatch{
		ID:       uuid.NewV4().String(),
		OpenTime: open,
		EndTime:  end,
		State:    types.BatchStateOpen,
	}

	e.mu.Lock()
	e.batches[b.ID] = b
	e.mu.Unlock()
	e.ledger.CreateBook(b.ID)

	e.log.Info("batch opened",
		logging.BatchID(b.ID),
		logging.Time("open", open),
		logging.Time("end", end),
	)
	return b.Clone(), nil
}

// HasOpenBatch reports whether any batch is still accepting orders at now.
func (e *Engine) HasOpenBatch(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, b := range e.batches {
		if b.State == types.BatchStateOpen && !b.Expired(now) {
			return true
		}
	}
	return false
}

// SubmitOrder validates and admits an order into an open batch, escrowing
// the submitter's cover: a bid escrows quantity x limit price of the payment
// asset, an ask escrows the quantity of the energy asset. A submission whose
// escrow cannot be funded is rejected outright, never partially applied.
func (e *Engine) SubmitOrder(batchID, party string, side types.Side, price *num.Uint, quantity uint64) (*types.Order, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if price == nil || price.IsZero() {
		return nil, ErrInvalidPrice
	}

	now := e.timeService.GetTimeNow()

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	switch b.State {
	case types.BatchStateOpen:
		if b.Expired(now) {
			return nil, ErrBatchClosed
		}
	case types.BatchStateCleared, types.BatchStateSettling, types.BatchStateExhausted, types.BatchStateFailed:
		return nil, ErrBatchClosed
	default:
		return nil, ErrBatchNotFound
	}

	order := &types.Order{
		ID:        uuid.NewV4().String(),
		BatchID:   batchID,
		Party:     party,
		Side:      side,
		Price:     price.Clone(),
		Size:      quantity,
		Remaining: quantity,
		CreatedAt: now,
	}

	if err := e.escrow(order); err != nil {
		return nil, err
	}
	if err := e.ledger.Add(order); err != nil {
		// escrow was taken, hand it back before failing the submission
		e.refund(order, order.Remaining)
		return nil, err
	}

	e.log.Info("order submitted",
		logging.BatchID(batchID),
		logging.OrderID(order.ID),
		logging.Party(party),
		logging.String("side", side.String()),
		logging.String("price", price.String()),
		logging.Uint64("quantity", quantity),
	)
	return order.Clone(), nil
}

// CancelOrder reduces an order's remaining quantity to zero and refunds its
// escrow. Permitted only while the batch is open; the order itself stays in
// the ledger.
func (e *Engine) CancelOrder(batchID, party, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	switch b.State {
	case types.BatchStateOpen:
	case types.BatchStateCleared, types.BatchStateSettling, types.BatchStateExhausted, types.BatchStateFailed:
		return ErrBatchClosed
	default:
		return ErrBatchNotFound
	}

	order, err := e.ledger.GetOrder(batchID, orderID)
	if err != nil {
		return err
	}
	if order.Party != party {
		return ErrNotOwner
	}
	cancelled, err := e.ledger.Cancel(batchID, orderID)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		if err := e.refund(order, cancelled); err != nil {
			return err
		}
	}
	e.log.Info("order cancelled",
		logging.BatchID(batchID),
		logging.OrderID(orderID),
		logging.Uint64("quantity", cancelled),
	)
	return nil
}

// escrow moves the order's cover from the party's general account into the
// batch vault. Caller holds the engine lock.
func (e *Engine) escrow(o *types.Order) error {
	asset, amount := escrowAmount(o, o.Remaining)
	vault := e.collateral.EnsureVault(o.BatchID, asset)
	general := e.collateral.EnsureGeneralAccount(o.Party, asset)
	return e.collateral.Transfer(collateral.Transfer{
		From:   general,
		To:     vault,
		Asset:  asset,
		Amount: amount,
	})
}

// refund hands escrowed cover for the given quantity back to the owner.
func (e *Engine) refund(o *types.Order, quantity uint64) error {
	asset, amount := escrowAmount(o, quantity)
	vault := collateral.VaultID(o.BatchID, asset)
	general := collateral.GeneralAccountID(o.Party, asset)
	return e.collateral.Transfer(collateral.Transfer{
		From:   vault,
		To:     general,
		Asset:  asset,
		Amount: amount,
	})
}

func escrowAmount(o *types.Order, quantity uint64) (types.Asset, *num.Uint) {
	q := num.NewUint(quantity)
	if o.Side == types.SideBid {
		return types.AssetPayment, num.UintZero().Mul(o.Price, q)
	}
	return types.AssetEnergy, q
}

// Resolve drives an expired batch through Open → Cleared, or Open → Failed
// when no admissible clearing price exists. Calling it on an already
// resolved batch is a no-op that reports the recorded state; the clearing
// computation never runs twice for the same batch.
func (e *Engine) Resolve(batchID string) (*types.AuctionBatch, error) {
	now := e.timeService.GetTimeNow()

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	switch b.State {
	case types.BatchStateOpen:
		if !b.Expired(now) {
			return nil, ErrNotYetExpired
		}
	case types.BatchStateCleared, types.BatchStateSettling, types.BatchStateExhausted, types.BatchStateFailed:
		// already resolved, idempotent no-op
		return b.Clone(), nil
	default:
		return nil, ErrBatchNotFound
	}

	orders, err := e.ledger.ListOrders(batchID)
	if err != nil {
		return nil, err
	}
	minPrice, maxPrice := e.oracle.Band()
	res, err := clearing.Price(orders, minPrice, maxPrice, e.oracle.LastPrice())
	switch {
	case err == nil:
		b.State = types.BatchStateCleared
		b.ClearingPrice = res.Price.Clone()
		e.log.Info("batch cleared",
			logging.BatchID(batchID),
			logging.String("clearing-price", res.Price.String()),
			logging.Uint64("volume", res.Volume),
		)
	case errors.Is(err, clearing.ErrNoTrade), errors.Is(err, clearing.ErrPriceOutOfBand):
		b.State = types.BatchStateFailed
		b.ClearingPrice = num.UintZero()
		e.log.Info("batch failed to clear",
			logging.BatchID(batchID),
			logging.String("reason", err.Error()),
		)
		e.releaseAllEscrow(b)
	default:
		return nil, err
	}
	return b.Clone(), nil
}

// releaseAllEscrow refunds every live order of a failed batch. Caller holds
// the engine lock.
func (e *Engine) releaseAllEscrow(b *types.AuctionBatch) {
	orders, err := e.ledger.ListOrders(b.ID)
	if err != nil {
		e.log.Error("unable to list orders for escrow release",
			logging.BatchID(b.ID), logging.Error(err))
		return
	}
	for _, o := range orders {
		if o.Remaining == 0 {
			continue
		}
		if err := e.refund(o, o.Remaining); err != nil {
			e.log.Error("escrow release failed",
				logging.BatchID(b.ID),
				logging.OrderID(o.ID),
				logging.Error(err),
			)
		}
	}
}

// BeginSettlement moves a cleared batch into Settling. Called by the
// settlement engine when the first match of the batch applies.
func (e *Engine) BeginSettlement(batchID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	switch b.State {
	case types.BatchStateCleared:
		b.State = types.BatchStateSettling
		return nil
	case types.BatchStateSettling:
		return nil
	case types.BatchStateOpen, types.BatchStateExhausted, types.BatchStateFailed:
		return ErrBatchClosed
	default:
		return ErrBatchNotFound
	}
}

// MarkExhausted stamps a batch whose eligible pairs have drained. Residual
// escrow (unmatched remainders, bid price improvement) is handed back to the
// owners so both vaults end at zero.
func (e *Engine) MarkExhausted(batchID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	switch b.State {
	case types.BatchStateCleared, types.BatchStateSettling:
		e.releaseResidual(b)
		b.State = types.BatchStateExhausted
		e.log.Info("batch exhausted", logging.BatchID(batchID))
		return nil
	case types.BatchStateExhausted:
		return nil
	case types.BatchStateOpen, types.BatchStateFailed:
		return ErrBatchClosed
	default:
		return ErrBatchNotFound
	}
}

// releaseResidual drains what settlement left in the vaults: unmatched
// remainders at full cover, plus the price improvement bids escrowed above
// the clearing price on their matched quantity. Caller holds the engine
// lock.
func (e *Engine) releaseResidual(b *types.AuctionBatch) {
	orders, err := e.ledger.ListOrders(b.ID)
	if err != nil {
		e.log.Error("unable to list orders for residual release",
			logging.BatchID(b.ID), logging.Error(err))
		return
	}
	for _, o := range orders {
		if o.Remaining > 0 {
			if err := e.refund(o, o.Remaining); err != nil {
				e.log.Error("residual refund failed",
					logging.BatchID(b.ID), logging.OrderID(o.ID), logging.Error(err))
			}
		}
		// a matched bid paid the clearing price but escrowed its limit price
		if o.Side == types.SideBid && o.Filled() > 0 && o.Price.GT(b.ClearingPrice) {
			improvement := num.UintZero().Sub(o.Price, b.ClearingPrice)
			amount := num.UintZero().Mul(improvement, num.NewUint(o.Filled()))
			err := e.collateral.Transfer(collateral.Transfer{
				From:   collateral.VaultID(b.ID, types.AssetPayment),
				To:     collateral.GeneralAccountID(o.Party, types.AssetPayment),
				Asset:  types.AssetPayment,
				Amount: amount,
			})
			if err != nil {
				e.log.Error("price improvement refund failed",
					logging.BatchID(b.ID), logging.OrderID(o.ID), logging.Error(err))
			}
		}
	}
}

// GetBatch returns a copy of a batch.
func (e *Engine) GetBatch(batchID string) (*types.AuctionBatch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return b.Clone(), nil
}

// ListBatches returns copies of all known batches ordered by open time. The
// scheduler recomputes its work list from this on every cycle.
func (e *Engine) ListBatches() []*types.AuctionBatch {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*types.AuctionBatch, 0, len(e.batches))
	for _, b := range e.batches {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
