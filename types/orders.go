package types

import (
	"time"

	"github.com/gridmesh/gridclear/types/num"
)

// Side of an order within a batch: energy buyers submit bids, producers
// submit asks.
type Side int

const (
	SideUnspecified Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unspecified"
	}
}

// Order is a priced buy or sell submission against a batch. All fields but
// Remaining are immutable once the order is accepted; Remaining is only ever
// decremented by the settlement matcher (or zeroed by a cancellation) and
// never goes below zero. Orders are never deleted, an exhausted order stays
// in the ledger as audit record.
type Order struct {
	ID        string
	BatchID   string
	Party     string
	Side      Side
	Price     *num.Uint
	Size      uint64
	Remaining uint64
	CreatedAt time.Time
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	cpy := *o
	cpy.Price = o.Price.Clone()
	return &cpy
}

// Filled returns the quantity matched so far.
func (o *Order) Filled() uint64 {
	return o.Size - o.Remaining
}

// EligibleAt reports whether the order could trade at the given clearing
// price: a bid is willing to pay at least that much, an ask is willing to
// receive at most that much.
func (o *Order) EligibleAt(price *num.Uint) bool {
	if o.Remaining == 0 {
		return false
	}
	switch o.Side {
	case SideBid:
		return o.Price.GTE(price)
	case SideAsk:
		return o.Price.LTE(price)
	default:
		return false
	}
}
