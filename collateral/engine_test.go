package collateral_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/types"
	"github.com/gridmesh/gridclear/types/num"
)

func testEngine() *collateral.Engine {
	return collateral.New(logging.NewTestLogger(), collateral.NewDefaultConfig())
}

func TestVaultDerivationIsPure(t *testing.T) {
	a := collateral.VaultID("batch-1", types.AssetEnergy)
	b := collateral.VaultID("batch-1", types.AssetEnergy)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, collateral.VaultID("batch-1", types.AssetPayment))
	assert.NotEqual(t, a, collateral.VaultID("batch-2", types.AssetEnergy))
}

func TestDepositAndBalance(t *testing.T) {
	e := testEngine()
	acc := e.EnsureGeneralAccount("alice", types.AssetPayment)

	require.NoError(t, e.Deposit(acc, num.NewUint(100)))
	bal, err := e.Balance(acc)
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	err = e.Deposit("nope", num.NewUint(1))
	assert.ErrorIs(t, err, collateral.ErrAccountDoesNotExist)
}

func TestTransferChecksFunds(t *testing.T) {
	e := testEngine()
	from := e.EnsureGeneralAccount("alice", types.AssetPayment)
	to := e.EnsureGeneralAccount("bob", types.AssetPayment)
	require.NoError(t, e.Deposit(from, num.NewUint(10)))

	err := e.Transfer(collateral.Transfer{From: from, To: to, Asset: types.AssetPayment, Amount: num.NewUint(11)})
	assert.ErrorIs(t, err, collateral.ErrInsufficientFunds)

	require.NoError(t, e.Transfer(collateral.Transfer{From: from, To: to, Asset: types.AssetPayment, Amount: num.NewUint(10)}))
	bal, _ := e.Balance(to)
	assert.Equal(t, "10", bal.String())
}

func TestTransferAssetMismatch(t *testing.T) {
	e := testEngine()
	from := e.EnsureGeneralAccount("alice", types.AssetPayment)
	to := e.EnsureGeneralAccount("bob", types.AssetEnergy)
	require.NoError(t, e.Deposit(from, num.NewUint(10)))

	err := e.Transfer(collateral.Transfer{From: from, To: to, Asset: types.AssetPayment, Amount: num.NewUint(5)})
	assert.ErrorIs(t, err, collateral.ErrAssetMismatch)
}

func TestTransferPairIsAtomic(t *testing.T) {
	e := testEngine()
	payVault := e.EnsureVault("batch-1", types.AssetPayment)
	nrgVault := e.EnsureVault("batch-1", types.AssetEnergy)
	seller := e.EnsureGeneralAccount("seller", types.AssetPayment)
	buyer := e.EnsureGeneralAccount("buyer", types.AssetEnergy)

	require.NoError(t, e.Deposit(payVault, num.NewUint(100)))
	// energy vault underfunded on purpose
	require.NoError(t, e.Deposit(nrgVault, num.NewUint(3)))

	err := e.TransferPair(
		collateral.Transfer{From: payVault, To: seller, Asset: types.AssetPayment, Amount: num.NewUint(40)},
		collateral.Transfer{From: nrgVault, To: buyer, Asset: types.AssetEnergy, Amount: num.NewUint(10)},
	)
	assert.ErrorIs(t, err, collateral.ErrInsufficientFunds)

	// neither leg may have applied
	bal, _ := e.Balance(payVault)
	assert.Equal(t, "100", bal.String())
	bal, _ = e.Balance(seller)
	assert.Equal(t, "0", bal.String())
	bal, _ = e.Balance(nrgVault)
	assert.Equal(t, "3", bal.String())
	bal, _ = e.Balance(buyer)
	assert.Equal(t, "0", bal.String())
}

func TestMovementsRecorded(t *testing.T) {
	e := testEngine()
	from := e.EnsureGeneralAccount("alice", types.AssetPayment)
	to := e.EnsureGeneralAccount("bob", types.AssetPayment)
	require.NoError(t, e.Deposit(from, num.NewUint(10)))
	require.NoError(t, e.Transfer(collateral.Transfer{From: from, To: to, Asset: types.AssetPayment, Amount: num.NewUint(4)}))

	moves := e.Movements()
	require.Len(t, moves, 1)
	assert.Equal(t, from, moves[0].FromAccount)
	assert.Equal(t, to, moves[0].ToAccount)
	assert.Equal(t, "4", moves[0].Amount.String())
}

func TestAuditVaultsOnEmptyBatch(t *testing.T) {
	e := testEngine()
	energy, payment := e.AuditVaults("never-seen")
	assert.True(t, energy.IsZero())
	assert.True(t, payment.IsZero())
}
