package collateral

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/types"
	"github.com/gridmesh/gridclear/types/num"
)

var (
	// ErrAccountDoesNotExist is returned when a transfer names an unknown
	// account.
	ErrAccountDoesNotExist = errors.New("account does not exist")
	// ErrInsufficientFunds is returned when a debit exceeds the source
	// balance. Settlement treats this as recoverable: nothing was applied,
	// the same pair can be retried.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAssetMismatch is returned when a transfer's asset does not match
	// both accounts.
	ErrAssetMismatch = errors.New("account asset mismatch")
	// ErrInvalidAmount is returned for zero-amount transfers.
	ErrInvalidAmount = errors.New("invalid transfer amount")
)

// VaultID derives the escrow vault identifier for a batch and asset kind.
// Pure function of its two keys: the matcher and any auditing tool derive
// the same handle with no shared state.
func VaultID(batchID string, asset types.Asset) string {
	return fmt.Sprintf("vault:%s:%s", batchID, asset.String())
}

// GeneralAccountID derives a party's general account identifier for an asset.
func GeneralAccountID(party string, asset types.Asset) string {
	return fmt.Sprintf("general:%s:%s", party, asset.String())
}

// Transfer is one debit/credit leg to be applied by the engine.
type Transfer struct {
	From   string
	To     string
	Asset  types.Asset
	Amount *num.Uint
}

// Engine holds all custody accounts: party general accounts and per-batch
// escrow vaults. Balances only move through Transfer/TransferPair, and a
// pair either applies both legs or neither, so a partial debit is never
// observable.
type Engine struct {
	Config
	log *logging.Logger

	mu        sync.Mutex
	accounts  map[string]*types.Account
	movements []*types.LedgerMovement
	now       func() time.Time
}

// New returns a new collateral engine.
func New(log *logging.Logger, conf Config) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config:   conf,
		log:      log,
		accounts: map[string]*types.Account{},
		now:      time.Now,
	}
}

// ReloadConf updates the internal configuration of the collateral engine.
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

// EnsureGeneralAccount creates the party's general account for the asset if
// it does not exist yet, and returns its id.
func (e *Engine) EnsureGeneralAccount(party string, asset types.Asset) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensure(GeneralAccountID(party, asset), party, asset, types.AccountTypeGeneral)
}

// EnsureVault creates the batch's escrow vault for the asset if it does not
// exist yet, and returns its id. Vaults come into existence lazily, on the
// first order submission needing one.
func (e *Engine) EnsureVault(batchID string, asset types.Asset) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensure(VaultID(batchID, asset), batchID, asset, types.AccountTypeEscrow)
}

func (e *Engine) ensure(id, owner string, asset types.Asset, typ types.AccountType) string {
	if _, ok := e.accounts[id]; !ok {
		e.accounts[id] = &types.Account{
			ID:      id,
			Owner:   owner,
			Asset:   asset,
			Type:    typ,
			Balance: num.UintZero(),
		}
		if e.log.IsDebug() {
			e.log.Debug("account created",
				logging.String("account", id),
				logging.String("type", typ.String()),
			)
		}
	}
	return id
}

// Deposit credits an existing account. This is the boundary with the
// out-of-scope token mint: test fixtures and the faucet-style funding path
// come through here.
func (e *Engine) Deposit(accountID string, amount *num.Uint) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, ok := e.accounts[accountID]
	if !ok {
		return ErrAccountDoesNotExist
	}
	acc.Balance.AddSum(amount)
	return nil
}

// Balance returns the current balance of an account.
func (e *Engine) Balance(accountID string) (*num.Uint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, ok := e.accounts[accountID]
	if !ok {
		return nil, ErrAccountDoesNotExist
	}
	return acc.Balance.Clone(), nil
}

// GetAccount returns a copy of an account.
func (e *Engine) GetAccount(accountID string) (*types.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, ok := e.accounts[accountID]
	if !ok {
		return nil, ErrAccountDoesNotExist
	}
	return acc.Clone(), nil
}

// Transfer applies a single debit/credit leg atomically.
func (e *Engine) Transfer(t Transfer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.check(t); err != nil {
		return err
	}
	e.apply(t)
	return nil
}

// TransferPair applies two legs as one atomic unit: both are validated
// against current balances before either is applied, so an underfunded leg
// leaves every balance untouched.
func (e *Engine) TransferPair(a, b Transfer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.check(a); err != nil {
		return err
	}
	if err := e.check(b); err != nil {
		return err
	}
	e.apply(a)
	e.apply(b)
	return nil
}

func (e *Engine) check(t Transfer) error {
	if t.Amount == nil || t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	from, ok := e.accounts[t.From]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountDoesNotExist, t.From)
	}
	to, ok := e.accounts[t.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountDoesNotExist, t.To)
	}
	if from.Asset != t.Asset || to.Asset != t.Asset {
		return ErrAssetMismatch
	}
	if from.Balance.LT(t.Amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s",
			ErrInsufficientFunds, t.From, from.Balance.String(), t.Amount.String())
	}
	return nil
}

// apply assumes check passed and the engine lock is held.
func (e *Engine) apply(t Transfer) {
	from := e.accounts[t.From]
	to := e.accounts[t.To]
	from.Balance.Sub(from.Balance, t.Amount)
	to.Balance.AddSum(t.Amount)
	e.movements = append(e.movements, &types.LedgerMovement{
		FromAccount: t.From,
		ToAccount:   t.To,
		Asset:       t.Asset,
		Amount:      t.Amount.Clone(),
		Timestamp:   e.now(),
	})
}

// Movements returns a copy of the full ledger movement history.
func (e *Engine) Movements() []*types.LedgerMovement {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.LedgerMovement, len(e.movements))
	copy(out, e.movements)
	return out
}

// AuditVaults returns the residual balances of a batch's vaults. Both must
// be zero once the batch is exhausted; anything else is a consistency-check
// failure for the operator.
func (e *Engine) AuditVaults(batchID string) (energy, payment *num.Uint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	energy, payment = num.UintZero(), num.UintZero()
	if acc, ok := e.accounts[VaultID(batchID, types.AssetEnergy)]; ok {
		energy = acc.Balance.Clone()
	}
	if acc, ok := e.accounts[VaultID(batchID, types.AssetPayment)]; ok {
		payment = acc.Balance.Clone()
	}
	return energy, payment
}
