package auction_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridclear/auction"
	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/ledger"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/types"
	"github.com/gridmesh/gridclear/types/num"
)

type stubOracle struct {
	min, max *num.Uint
	last     num.Decimal
}

func (o *stubOracle) Band() (*num.Uint, *num.Uint) { return o.min.Clone(), o.max.Clone() }
func (o *stubOracle) LastPrice() num.Decimal       { return o.last }

type testTime struct{ now time.Time }

func (t *testTime) GetTimeNow() time.Time { return t.now }

type tstEngine struct {
	*auction.Engine
	collateral *collateral.Engine
	ledger     *ledger.Engine
	oracle     *stubOracle
	time       *testTime
}

func getTestEngine(t *testing.T) *tstEngine {
	t.Helper()
	log := logging.NewTestLogger()
	col := collateral.New(log, collateral.NewDefaultConfig())
	ldg := ledger.New(log, ledger.NewDefaultConfig())
	oracle := &stubOracle{
		min:  num.NewUint(1),
		max:  num.NewUint(100),
		last: num.DecimalFromInt64(4),
	}
	tt := &testTime{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	eng := auction.New(log, auction.NewDefaultConfig(), ldg, col, oracle, tt)
	return &tstEngine{
		Engine:     eng,
		collateral: col,
		ledger:     ldg,
		oracle:     oracle,
		time:       tt,
	}
}

func (e *tstEngine) fund(t *testing.T, party string, asset types.Asset, amount uint64) {
	t.Helper()
	acc := e.collateral.EnsureGeneralAccount(party, asset)
	require.NoError(t, e.collateral.Deposit(acc, num.NewUint(amount)))
}

func (e *tstEngine) openBatch(t *testing.T) *types.AuctionBatch {
	t.Helper()
	b, err := e.OpenBatch(e.time.now, e.time.now.Add(time.Hour))
	require.NoError(t, err)
	return b
}

func TestSubmitValidations(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 0)
	assert.ErrorIs(t, err, auction.ErrInvalidQuantity)

	_, err = e.SubmitOrder(b.ID, "alice", types.SideBid, num.UintZero(), 10)
	assert.ErrorIs(t, err, auction.ErrInvalidPrice)

	_, err = e.SubmitOrder("no-such-batch", "alice", types.SideBid, num.NewUint(5), 10)
	assert.ErrorIs(t, err, auction.ErrBatchNotFound)

	_, err = e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	assert.NoError(t, err)
}

func TestSubmitAfterExpiryRejected(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)

	e.time.now = b.EndTime
	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	assert.ErrorIs(t, err, auction.ErrBatchClosed)
}

func TestSubmitTakesEscrow(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)
	e.fund(t, "bob", types.AssetEnergy, 50)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)
	_, err = e.SubmitOrder(b.ID, "bob", types.SideAsk, num.NewUint(3), 8)
	require.NoError(t, err)

	// bid escrows quantity x limit price of payment, ask escrows quantity of energy
	bal, err := e.collateral.Balance(collateral.VaultID(b.ID, types.AssetPayment))
	require.NoError(t, err)
	assert.Equal(t, "50", bal.String())
	bal, err = e.collateral.Balance(collateral.VaultID(b.ID, types.AssetEnergy))
	require.NoError(t, err)
	assert.Equal(t, "8", bal.String())

	bal, _ = e.collateral.Balance(collateral.GeneralAccountID("alice", types.AssetPayment))
	assert.Equal(t, "950", bal.String())
	bal, _ = e.collateral.Balance(collateral.GeneralAccountID("bob", types.AssetEnergy))
	assert.Equal(t, "42", bal.String())
}

func TestSubmitWithoutCoverRejected(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 10)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	assert.ErrorIs(t, err, collateral.ErrInsufficientFunds)

	// nothing was taken
	bal, _ := e.collateral.Balance(collateral.GeneralAccountID("alice", types.AssetPayment))
	assert.Equal(t, "10", bal.String())
}

func TestCancelRefundsEscrow(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 100)

	o, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(b.ID, "alice", o.ID))
	bal, _ := e.collateral.Balance(collateral.GeneralAccountID("alice", types.AssetPayment))
	assert.Equal(t, "100", bal.String())

	// not removed: audit continuity
	orders, err := e.ledger.ListOrders(b.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, uint64(0), orders[0].Remaining)

	err = e.CancelOrder(b.ID, "mallory", o.ID)
	assert.ErrorIs(t, err, auction.ErrNotOwner)
}

func TestResolveBeforeExpiry(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)

	_, err := e.Resolve(b.ID)
	assert.ErrorIs(t, err, auction.ErrNotYetExpired)
}

func TestResolveClearsBatch(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)
	e.fund(t, "bob", types.AssetEnergy, 50)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)
	_, err = e.SubmitOrder(b.ID, "bob", types.SideAsk, num.NewUint(3), 8)
	require.NoError(t, err)

	e.time.now = b.EndTime
	resolved, err := e.Resolve(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateCleared, resolved.State)
	require.NotNil(t, resolved.ClearingPrice)
	assert.False(t, resolved.ClearingPrice.IsZero())
}

func TestResolveIsIdempotent(t *testing.T) {
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)
	e.fund(t, "bob", types.AssetEnergy, 50)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)
	_, err = e.SubmitOrder(b.ID, "bob", types.SideAsk, num.NewUint(3), 8)
	require.NoError(t, err)

	e.time.now = b.EndTime
	first, err := e.Resolve(b.ID)
	require.NoError(t, err)
	second, err := e.Resolve(b.ID)
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State)
	assert.True(t, first.ClearingPrice.EQ(second.ClearingPrice))
}

func TestResolveNoAsksFailsBatch(t *testing.T) {
	// one bid, no asks: the batch fails with a zero clearing price and the
	// bid's escrow is handed back
	e := getTestEngine(t)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)

	e.time.now = b.EndTime
	resolved, err := e.Resolve(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateFailed, resolved.State)
	assert.True(t, resolved.ClearingPrice.IsZero())

	bal, _ := e.collateral.Balance(collateral.GeneralAccountID("alice", types.AssetPayment))
	assert.Equal(t, "1000", bal.String())

	// terminal: still reports the recorded state on a retry
	again, err := e.Resolve(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateFailed, again.State)
}

func TestResolveOutOfBandFailsBatch(t *testing.T) {
	e := getTestEngine(t)
	e.oracle.min = num.NewUint(1)
	e.oracle.max = num.NewUint(2)
	b := e.openBatch(t)
	e.fund(t, "alice", types.AssetPayment, 1000)
	e.fund(t, "bob", types.AssetEnergy, 50)

	_, err := e.SubmitOrder(b.ID, "alice", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)
	_, err = e.SubmitOrder(b.ID, "bob", types.SideAsk, num.NewUint(5), 10)
	require.NoError(t, err)

	e.time.now = b.EndTime
	resolved, err := e.Resolve(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateFailed, resolved.State)
	assert.True(t, resolved.ClearingPrice.IsZero())
}

func TestListBatchesOrderedByOpenTime(t *testing.T) {
	e := getTestEngine(t)
	first := e.openBatch(t)
	e.time.now = e.time.now.Add(time.Minute)
	second := e.openBatch(t)

	batches := e.ListBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, first.ID, batches[0].ID)
	assert.Equal(t, second.ID, batches[1].ID)
}

func TestHasOpenBatch(t *testing.T) {
	e := getTestEngine(t)
	assert.False(t, e.HasOpenBatch(e.time.now))
	b := e.openBatch(t)
	assert.True(t, e.HasOpenBatch(e.time.now))
	assert.False(t, e.HasOpenBatch(b.EndTime))
}
