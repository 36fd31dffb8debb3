package types

import (
	"time"

	"github.com/gridmesh/gridclear/types/num"
)

// SettlementRecord is the append-only audit record of one executed match.
// Records are never mutated or deleted.
type SettlementRecord struct {
	BatchID    string
	BidOrderID string
	AskOrderID string
	Buyer      string
	Seller     string
	Quantity   uint64
	Price      *num.Uint
	Timestamp  time.Time
}

// PaymentAmount is the payment-asset value of the record: quantity at the
// clearing price.
func (r *SettlementRecord) PaymentAmount() *num.Uint {
	return num.UintZero().Mul(r.Price, num.NewUint(r.Quantity))
}
