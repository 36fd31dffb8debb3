package settlement_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridclear/auction"
	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/ledger"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/settlement"
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
	*settlement.Engine
	auction    *auction.Engine
	collateral *collateral.Engine
	ledger     *ledger.Engine
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
	auc := auction.New(log, auction.NewDefaultConfig(), ldg, col, oracle, tt)
	stl := settlement.New(log, settlement.NewDefaultConfig(), ldg, auc, col)
	return &tstEngine{
		Engine:     stl,
		auction:    auc,
		collateral: col,
		ledger:     ldg,
		time:       tt,
	}
}

func (e *tstEngine) fund(t *testing.T, party string, asset types.Asset, amount uint64) {
	t.Helper()
	acc := e.collateral.EnsureGeneralAccount(party, asset)
	require.NoError(t, e.collateral.Deposit(acc, num.NewUint(amount)))
}

func (e *tstEngine) balance(t *testing.T, party string, asset types.Asset) string {
	t.Helper()
	bal, err := e.collateral.Balance(collateral.GeneralAccountID(party, asset))
	require.NoError(t, err)
	return bal.String()
}

// clearedBatch builds and resolves the reference book: bids (5,10) (4,5)
// against asks (3,8) (4,10), clearing at 4 with 15 units matchable.
func clearedBatch(t *testing.T, e *tstEngine) *types.AuctionBatch {
	t.Helper()
	b, err := e.auction.OpenBatch(e.time.now, e.time.now.Add(time.Hour))
	require.NoError(t, err)

	e.fund(t, "buyer1", types.AssetPayment, 1000)
	e.fund(t, "buyer2", types.AssetPayment, 1000)
	e.fund(t, "seller1", types.AssetEnergy, 100)
	e.fund(t, "seller2", types.AssetEnergy, 100)

	_, err = e.auction.SubmitOrder(b.ID, "buyer1", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)
	_, err = e.auction.SubmitOrder(b.ID, "buyer2", types.SideBid, num.NewUint(4), 5)
	require.NoError(t, err)
	_, err = e.auction.SubmitOrder(b.ID, "seller1", types.SideAsk, num.NewUint(3), 8)
	require.NoError(t, err)
	_, err = e.auction.SubmitOrder(b.ID, "seller2", types.SideAsk, num.NewUint(4), 10)
	require.NoError(t, err)

	e.time.now = b.EndTime
	resolved, err := e.auction.Resolve(b.ID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStateCleared, resolved.State)
	require.Equal(t, "4", resolved.ClearingPrice.String())
	return resolved
}

// drain settles until no eligible pair remains, returning the records.
func drain(t *testing.T, e *tstEngine, batchID string) []*types.SettlementRecord {
	t.Helper()
	for i := 0; i < 100; i++ {
		_, err := e.SettleNext(batchID)
		if errors.Is(err, settlement.ErrNoEligiblePair) {
			return e.Records(batchID)
		}
		require.NoError(t, err)
	}
	t.Fatal("batch did not drain")
	return nil
}

func TestSettleMovesMaximalVolume(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)

	records := drain(t, e, b.ID)
	var total uint64
	for _, r := range records {
		total += r.Quantity
		assert.Equal(t, "4", r.Price.String())
	}
	assert.Equal(t, uint64(15), total)

	final, err := e.auction.GetBatch(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateExhausted, final.State)
}

func TestVaultsDrainedAfterExhaustion(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)
	drain(t, e, b.ID)

	energy, payment := e.collateral.AuditVaults(b.ID)
	assert.True(t, energy.IsZero(), "energy vault residual: %s", energy)
	assert.True(t, payment.IsZero(), "payment vault residual: %s", payment)
}

func TestConservation(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)
	drain(t, e, b.ID)

	// buyers received 15 energy units total, sellers were paid 15 x 4
	// payment units, nothing minted or burned along the way
	buyer1Energy := e.balance(t, "buyer1", types.AssetEnergy)
	buyer2Energy := e.balance(t, "buyer2", types.AssetEnergy)
	assert.Equal(t, "10", buyer1Energy)
	assert.Equal(t, "5", buyer2Energy)

	// seller1 sold all 8, seller2 sold 7 of 10 with 3 refunded
	assert.Equal(t, "32", e.balance(t, "seller1", types.AssetPayment))
	assert.Equal(t, "28", e.balance(t, "seller2", types.AssetPayment))
	assert.Equal(t, "92", e.balance(t, "seller1", types.AssetEnergy))
	assert.Equal(t, "93", e.balance(t, "seller2", types.AssetEnergy))

	// buyers paid the clearing price, not their limit price
	assert.Equal(t, "960", e.balance(t, "buyer1", types.AssetPayment))
	assert.Equal(t, "980", e.balance(t, "buyer2", types.AssetPayment))
}

func TestNoOverfill(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)
	records := drain(t, e, b.ID)

	filled := map[string]uint64{}
	for _, r := range records {
		filled[r.BidOrderID] += r.Quantity
		filled[r.AskOrderID] += r.Quantity
	}
	orders, err := e.ledger.ListOrders(b.ID)
	require.NoError(t, err)
	for _, o := range orders {
		assert.LessOrEqual(t, filled[o.ID], o.Size, "order %s overfilled", o.ID)
	}
}

func TestSettleAfterExhaustionIsPureNoOp(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)
	drain(t, e, b.ID)

	before := map[string]string{}
	for _, party := range []string{"buyer1", "buyer2", "seller1", "seller2"} {
		before[party+"/nrg"] = e.balance(t, party, types.AssetEnergy)
		before[party+"/pay"] = e.balance(t, party, types.AssetPayment)
	}

	_, err := e.SettleNext(b.ID)
	assert.ErrorIs(t, err, settlement.ErrNoEligiblePair)

	for _, party := range []string{"buyer1", "buyer2", "seller1", "seller2"} {
		assert.Equal(t, before[party+"/nrg"], e.balance(t, party, types.AssetEnergy))
		assert.Equal(t, before[party+"/pay"], e.balance(t, party, types.AssetPayment))
	}
}

func TestSettleOpenBatchRejected(t *testing.T) {
	e := getTestEngine(t)
	b, err := e.auction.OpenBatch(e.time.now, e.time.now.Add(time.Hour))
	require.NoError(t, err)

	_, err = e.SettleNext(b.ID)
	assert.ErrorIs(t, err, settlement.ErrBatchNotCleared)
}

func TestSettleFailedBatchRejected(t *testing.T) {
	e := getTestEngine(t)
	b, err := e.auction.OpenBatch(e.time.now, e.time.now.Add(time.Hour))
	require.NoError(t, err)
	e.fund(t, "buyer1", types.AssetPayment, 1000)
	_, err = e.auction.SubmitOrder(b.ID, "buyer1", types.SideBid, num.NewUint(5), 10)
	require.NoError(t, err)

	e.time.now = b.EndTime
	resolved, err := e.auction.Resolve(b.ID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStateFailed, resolved.State)

	_, err = e.SettleNext(b.ID)
	assert.ErrorIs(t, err, settlement.ErrBatchNotCleared)
}

func TestUnderfundedEscrowIsRecoverable(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)

	// tamper with the energy vault so the first match cannot deliver
	vault := collateral.VaultID(b.ID, types.AssetEnergy)
	sink := e.collateral.EnsureGeneralAccount("tamper", types.AssetEnergy)
	require.NoError(t, e.collateral.Transfer(collateral.Transfer{
		From:   vault,
		To:     sink,
		Asset:  types.AssetEnergy,
		Amount: num.NewUint(18),
	}))

	_, err := e.SettleNext(b.ID)
	assert.ErrorIs(t, err, settlement.ErrEscrowUnderfunded)

	// nothing applied: the pair is intact for a later retry
	orders, err := e.ledger.ListOrders(b.ID)
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, o.Size, o.Remaining)
	}

	// put the funds back, settlement proceeds
	require.NoError(t, e.collateral.Transfer(collateral.Transfer{
		From:   sink,
		To:     vault,
		Asset:  types.AssetEnergy,
		Amount: num.NewUint(18),
	}))
	rec, err := e.SettleNext(b.ID)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestSettleCreditsFirstTimeCounterpartyAccounts(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)

	// sellers only ever funded energy, buyers only payment: the credit side
	// of the first match lands on accounts nobody has touched yet
	_, err := e.collateral.GetAccount(collateral.GeneralAccountID("seller1", types.AssetPayment))
	assert.ErrorIs(t, err, collateral.ErrAccountDoesNotExist)
	_, err = e.collateral.GetAccount(collateral.GeneralAccountID("buyer1", types.AssetEnergy))
	assert.ErrorIs(t, err, collateral.ErrAccountDoesNotExist)

	_, err = e.SettleNext(b.ID)
	require.NoError(t, err)

	assert.Equal(t, "32", e.balance(t, "seller1", types.AssetPayment))
	assert.Equal(t, "8", e.balance(t, "buyer1", types.AssetEnergy))
}

func TestBestPricedOrdersMatchFirst(t *testing.T) {
	e := getTestEngine(t)
	b := clearedBatch(t, e)

	// first match pairs the highest bid with the lowest ask
	rec, err := e.SettleNext(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer1", rec.Buyer)
	assert.Equal(t, "seller1", rec.Seller)
	assert.Equal(t, uint64(8), rec.Quantity)

	batch, err := e.auction.GetBatch(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateSettling, batch.State)
}
