package types

import (
	"time"

	"github.com/gridmesh/gridclear/types/num"
)

// Asset is one of the two value kinds moved at settlement: energy credits
// and the payment currency they trade against.
type Asset int

const (
	AssetUnspecified Asset = iota
	AssetEnergy
	AssetPayment
)

func (a Asset) String() string {
	switch a {
	case AssetEnergy:
		return "energy"
	case AssetPayment:
		return "payment"
	default:
		return "unspecified"
	}
}

// AccountType distinguishes party-owned general accounts from batch escrow
// vaults.
type AccountType int

const (
	AccountTypeUnspecified AccountType = iota
	AccountTypeGeneral
	AccountTypeEscrow
)

func (t AccountType) String() string {
	switch t {
	case AccountTypeGeneral:
		return "general"
	case AccountTypeEscrow:
		return "escrow"
	default:
		return "unspecified"
	}
}

// Account holds a single-asset balance. Escrow accounts are owned by a batch
// rather than a party.
type Account struct {
	ID      string
	Owner   string
	Asset   Asset
	Type    AccountType
	Balance *num.Uint
}

func (a *Account) Clone() *Account {
	cpy := *a
	cpy.Balance = a.Balance.Clone()
	return &cpy
}

// LedgerMovement is the audit record of a single applied debit/credit pair.
type LedgerMovement struct {
	FromAccount string
	ToAccount   string
	Asset       Asset
	Amount      *num.Uint
	Timestamp   time.Time
}
