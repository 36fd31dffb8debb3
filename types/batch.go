package types

import (
	"time"

	"github.com/gridmesh/gridclear/types/num"
)

// BatchState is the lifecycle state of an auction batch.
//
// Open ─→ Cleared ─→ Settling ─→ Exhausted
//   └──→ Failed
//
// Failed and Exhausted are terminal. The clearing price is stamped exactly
// once, on the Open → Cleared transition, and is immutable afterwards.
type BatchState int

const (
	BatchStateUnspecified BatchState = iota
	// BatchStateOpen accepts order submissions until EndTime.
	BatchStateOpen
	// BatchStateCleared has a clearing price but no settlement executed yet.
	BatchStateCleared
	// BatchStateSettling has at least one match settled, more may remain.
	BatchStateSettling
	// BatchStateExhausted has no eligible pairs left and all residual escrow
	// released. Historical record only.
	BatchStateExhausted
	// BatchStateFailed could not clear (no crossing volume, or the candidate
	// price fell outside the oracle band). Terminal, no settlement ever runs.
	BatchStateFailed
)

func (s BatchState) String() string {
	switch s {
	case BatchStateOpen:
		return "open"
	case BatchStateCleared:
		return "cleared"
	case BatchStateSettling:
		return "settling"
	case BatchStateExhausted:
		return "exhausted"
	case BatchStateFailed:
		return "failed"
	default:
		return "unspecified"
	}
}

// Terminal reports whether no further state transition is permitted.
func (s BatchState) Terminal() bool {
	return s == BatchStateExhausted || s == BatchStateFailed
}

// Resolved reports whether the batch went through resolution already,
// successfully or not.
func (s BatchState) Resolved() bool {
	switch s {
	case BatchStateCleared, BatchStateSettling, BatchStateExhausted, BatchStateFailed:
		return true
	case BatchStateOpen, BatchStateUnspecified:
		return false
	}
	return false
}

// AuctionBatch is a time-boxed collection of orders cleared together at a
// single price. Batches are never destroyed; once terminal they remain as
// historical record.
type AuctionBatch struct {
	ID            string
	OpenTime      time.Time
	EndTime       time.Time
	State         BatchState
	ClearingPrice *num.Uint // nil until resolved, 0 on a failed batch
}

// Expired reports whether the submission window has closed at time now.
func (b *AuctionBatch) Expired(now time.Time) bool {
	return !now.Before(b.EndTime)
}

// Clone returns a deep copy of the batch.
func (b *AuctionBatch) Clone() *AuctionBatch {
	cpy := *b
	if b.ClearingPrice != nil {
		cpy.ClearingPrice = b.ClearingPrice.Clone()
	}
	return &cpy
}
