package ledger

import (
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/types"
)

var (
	// ErrUnknownBatch is returned when no book exists for the batch id.
	ErrUnknownBatch = errors.New("unknown batch")
	// ErrOrderNotFound is returned when the order id is not in the book.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidQuantity is returned on a submission with a non-positive size.
	ErrInvalidQuantity = errors.New("invalid order quantity")
	// ErrInvalidReduction is returned when a fill would take an order's
	// remaining quantity below zero.
	ErrInvalidReduction = errors.New("reduction exceeds remaining quantity")
	// ErrDuplicateOrder is returned when an order id is submitted twice.
	ErrDuplicateOrder = errors.New("duplicate order id")
)

// entry wraps an order with its insertion sequence so same-priced orders keep
// a stable relative position in the price indexes.
type entry struct {
	seq   uint64
	order *types.Order
}

// book holds all orders of one batch: the append-only submission list plus
// per-side price-ordered indexes.
type book struct {
	seq    uint64
	orders []*types.Order
	byID   map[string]*types.Order
	// bids sorted best (highest) price first, asks best (lowest) price first
	bids *btree.BTreeG[entry]
	asks *btree.BTreeG[entry]
}

func bidLess(a, b entry) bool {
	if !a.order.Price.EQ(b.order.Price) {
		return a.order.Price.GT(b.order.Price)
	}
	return a.seq < b.seq
}

func askLess(a, b entry) bool {
	if !a.order.Price.EQ(b.order.Price) {
		return a.order.Price.LT(b.order.Price)
	}
	return a.seq < b.seq
}

func newBook() *book {
	return &book{
		byID: map[string]*types.Order{},
		bids: btree.NewG(8, bidLess),
		asks: btree.NewG(8, askLess),
	}
}

// Engine is the order ledger: an append-only record of every order submitted
// into every batch. Orders are never removed, cancellation is modelled as a
// reduction of the remaining quantity to zero.
type Engine struct {
	Config
	log *logging.Logger

	mu    sync.RWMutex
	books map[string]*book
}

// New returns a new order ledger engine.
func New(log *logging.Logger, conf Config) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config: conf,
		log:    log,
		books:  map[string]*book{},
	}
}

// ReloadConf updates the internal configuration of the ledger engine.
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

// CreateBook registers an empty book for the given batch. Creating the same
// book twice is a no-op.
func (e *Engine) CreateBook(batchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.books[batchID]; !ok {
		e.books[batchID] = newBook()
	}
}

// Add appends an order to its batch's book. The caller (the auction engine)
// is responsible for batch-state checks; the ledger only enforces the
// quantity and uniqueness contracts.
func (e *Engine) Add(order *types.Order) error {
	if order.Size == 0 || order.Remaining == 0 {
		return ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[order.BatchID]
	if !ok {
		return ErrUnknownBatch
	}
	if _, ok := b.byID[order.ID]; ok {
		return ErrDuplicateOrder
	}

	b.seq++
	b.orders = append(b.orders, order)
	b.byID[order.ID] = order
	en := entry{seq: b.seq, order: order}
	switch order.Side {
	case types.SideBid:
		b.bids.ReplaceOrInsert(en)
	case types.SideAsk:
		b.asks.ReplaceOrInsert(en)
	default:
		return errors.New("order side unspecified")
	}

	if e.log.IsDebug() {
		e.log.Debug("order added to ledger",
			logging.BatchID(order.BatchID),
			logging.OrderID(order.ID),
			logging.String("side", order.Side.String()),
			logging.String("price", order.Price.String()),
			logging.Uint64("size", order.Size),
		)
	}
	return nil
}

// ListOrders returns a copy of the full order set of a batch in submission
// order, for read-only consumers.
func (e *Engine) ListOrders(batchID string) ([]*types.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[batchID]
	if !ok {
		return nil, ErrUnknownBatch
	}
	out := make([]*types.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

// GetOrder returns a copy of a single order.
func (e *Engine) GetOrder(batchID, orderID string) (*types.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[batchID]
	if !ok {
		return nil, ErrUnknownBatch
	}
	o, ok := b.byID[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

// Reduce decrements an order's remaining quantity by the matched amount.
// Only the settlement matcher calls this; the remaining quantity can never
// go negative.
func (e *Engine) Reduce(batchID, orderID string, quantity uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	o, ok := b.byID[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if quantity > o.Remaining {
		return ErrInvalidReduction
	}
	o.Remaining -= quantity
	return nil
}

// Cancel zeroes an order's remaining quantity and returns the quantity that
// was cancelled. The order itself stays in the book as audit record.
func (e *Engine) Cancel(batchID, orderID string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[batchID]
	if !ok {
		return 0, ErrUnknownBatch
	}
	o, ok := b.byID[orderID]
	if !ok {
		return 0, ErrOrderNotFound
	}
	cancelled := o.Remaining
	o.Remaining = 0
	return cancelled, nil
}

// DescendBids visits the batch's bids from the highest price down, stopping
// when fn returns false. The callback gets a copy of the order.
func (e *Engine) DescendBids(batchID string, fn func(*types.Order) bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	b.bids.Ascend(func(en entry) bool {
		return fn(en.order.Clone())
	})
	return nil
}

// AscendAsks visits the batch's asks from the lowest price up, stopping when
// fn returns false. The callback gets a copy of the order.
func (e *Engine) AscendAsks(batchID string, fn func(*types.Order) bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	b.asks.Ascend(func(en entry) bool {
		return fn(en.order.Clone())
	})
	return nil
}
