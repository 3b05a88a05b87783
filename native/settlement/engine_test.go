package settlement

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"perkledger/core/events"
	"perkledger/core/state"
	"perkledger/native/badges"
	"perkledger/native/common"
	"perkledger/native/discount"
	"perkledger/native/identity"
	"perkledger/storage"
)

type mockAssets struct {
	balances  map[string]map[[20]byte]*big.Int
	onPayout  func() error
	transfers int
}

func newMockAssets() *mockAssets {
	return &mockAssets{balances: make(map[string]map[[20]byte]*big.Int)}
}

func (m *mockAssets) fund(asset string, owner [20]byte, amount int64) {
	if m.balances[asset] == nil {
		m.balances[asset] = make(map[[20]byte]*big.Int)
	}
	if m.balances[asset][owner] == nil {
		m.balances[asset][owner] = big.NewInt(0)
	}
	m.balances[asset][owner].Add(m.balances[asset][owner], big.NewInt(amount))
}

func (m *mockAssets) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if m.onPayout != nil {
		if err := m.onPayout(); err != nil {
			return err
		}
	}
	bal := m.balances[asset][from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return errors.New("mock: insufficient balance")
	}
	bal.Sub(bal, amount)
	if m.balances[asset][to] == nil {
		m.balances[asset][to] = big.NewInt(0)
	}
	m.balances[asset][to].Add(m.balances[asset][to], amount)
	m.transfers++
	return nil
}

func (m *mockAssets) TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error {
	return m.Transfer(asset, from, to, amount)
}

func (m *mockAssets) BalanceOf(asset string, owner [20]byte) (*big.Int, error) {
	bal := m.balances[asset][owner]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *mockAssets) balance(asset string, owner [20]byte) int64 {
	bal, _ := m.BalanceOf(asset, owner)
	return bal.Int64()
}

// mockExchange swaps at a fixed 1:1 rate, minting the output to the
// recipient. onSwap runs before the output is minted.
type mockExchange struct {
	assets *mockAssets
	onSwap func() error
	calls  int
}

func (x *mockExchange) Swap(assetIn, assetOut string, amountIn, minAmountOut *big.Int, caller, recipient [20]byte) (*big.Int, error) {
	x.calls++
	if x.onSwap != nil {
		if err := x.onSwap(); err != nil {
			return nil, err
		}
	}
	x.assets.fund(assetOut, recipient, amountIn.Int64())
	return new(big.Int).Set(amountIn), nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) byType(eventType string) []events.Event {
	var out []events.Event
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type settleFixture struct {
	st         *state.Manager
	identities *identity.Registry
	badges     *badges.Engine
	pools      *discount.PoolRegistry
	affiliates *discount.AffiliateRegistry
	assets     *mockAssets
	exchange   *mockExchange
	emitter    *recordingEmitter
	engine     *Engine

	treasury [20]byte
	escrow   [20]byte
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func newSettleFixture(t *testing.T, params Params) *settleFixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	identities := identity.NewRegistry(st)
	badgeEngine := badges.NewEngine(st, badges.DefaultCatalog(), identities)
	pools := discount.NewPoolRegistry(st, identities)
	affiliates := discount.NewAffiliateRegistry(st)
	agg, err := discount.NewAggregator(pools, affiliates, params.Aggregator)
	require.NoError(t, err)

	assets := newMockAssets()
	exchange := &mockExchange{assets: assets}
	params.Treasury = addr(0xA1)
	params.Escrow = addr(0xA2)

	engine, err := NewEngine(st, identities, badgeEngine, pools, affiliates, agg, assets, exchange, params)
	require.NoError(t, err)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetGuard(common.NewCallGuard())
	engine.SetTraceFunc(func() string { return "trace-1" })

	return &settleFixture{
		st:         st,
		identities: identities,
		badges:     badgeEngine,
		pools:      pools,
		affiliates: affiliates,
		assets:     assets,
		exchange:   exchange,
		emitter:    emitter,
		engine:     engine,
		treasury:   params.Treasury,
		escrow:     params.Escrow,
	}
}

func (f *settleFixture) register(t *testing.T, owner [20]byte) uint64 {
	t.Helper()
	id, err := f.identities.Register(owner)
	require.NoError(t, err)
	return id
}

func (f *settleFixture) createPool(t *testing.T, creator [20]byte, p *discount.Pool) discount.PoolID {
	t.Helper()
	id, err := f.pools.Create(creator, p)
	require.NoError(t, err)
	return id
}

func basePool() *discount.Pool {
	return &discount.Pool{
		AssetA:        "ABC",
		AssetB:        "XYZ",
		ReserveA:      big.NewInt(100_000),
		ReserveB:      big.NewInt(100_000),
		DiscountBps:   300,
		ReserveBacked: true,
	}
}

func baseRequest(caller [20]byte, poolIDs []discount.PoolID) SwapRequest {
	return SwapRequest{
		Caller:   caller,
		AssetIn:  "ABC",
		AssetOut: "XYZ",
		AmountIn: big.NewInt(1_000),
		PoolIDs:  poolIDs,
	}
}

func TestSwapValidation(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	caller := addr(2)
	f.register(t, caller)

	req := baseRequest(caller, nil)
	req.AssetOut = "ABC"
	_, err := f.engine.Swap(req, 1, 1)
	require.ErrorIs(t, err, ErrSameAsset)

	req = baseRequest(caller, nil)
	req.AmountIn = big.NewInt(0)
	_, err = f.engine.Swap(req, 1, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)

	req = baseRequest(caller, make([]discount.PoolID, DefaultMaxPoolsPerTrade+1))
	_, err = f.engine.Swap(req, 1, 1)
	require.ErrorIs(t, err, ErrTooManyPools)

	var dup discount.PoolID
	dup[0] = 7
	req = baseRequest(caller, []discount.PoolID{dup, dup})
	_, err = f.engine.Swap(req, 1, 1)
	require.ErrorIs(t, err, ErrDuplicatePool)

	_, err = f.engine.Swap(baseRequest(addr(9), nil), 1, 1)
	require.ErrorIs(t, err, ErrProfileRequired)

	// No state change from rejected requests: the exchange never ran.
	require.Equal(t, 0, f.exchange.calls)
}

func TestSwapDenylist(t *testing.T) {
	params := DefaultParams()
	params.DeniedAssets = []string{"xyz"}
	f := newSettleFixture(t, params)
	caller := addr(2)
	f.register(t, caller)

	_, err := f.engine.Swap(baseRequest(caller, nil), 1, 1)
	require.ErrorIs(t, err, ErrAssetDenied)
}

func TestSwapSettlesWithPoolDiscount(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	creator := addr(1)
	f.register(t, creator)
	poolID := f.createPool(t, creator, basePool())

	caller := addr(2)
	profileID := f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)
	now := uint64(1_700_000_000)

	res, err := f.engine.Swap(baseRequest(caller, []discount.PoolID{poolID}), 1, now)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), res.RawAmountOut)
	require.Equal(t, big.NewInt(30), res.Discount)
	require.Equal(t, big.NewInt(1_030), res.AmountOut)
	require.False(t, res.Clipped)
	require.Equal(t, int64(1_030), f.assets.balance("XYZ", caller))

	// Pool reserve decremented by exactly the claimed discount.
	pool, found := f.pools.PoolByID(poolID)
	require.True(t, found)
	require.Equal(t, big.NewInt(99_970), pool.ReserveB)

	// Activity recorded: volume, swap count and first-swap badge.
	profile, _, err := f.identities.ProfileByID(profileID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), profile.TotalVolume)
	require.Equal(t, uint64(1), profile.SwapCount)
	require.NotZero(t, profile.BadgeCount)

	settled := f.emitter.byType(events.TypeTradeSettled)
	require.Len(t, settled, 1)
	require.Equal(t, "trace-1", settled[0].(events.TradeSettled).TraceID)
}

// The cap invariant: discountApplied never exceeds rawAmountOut scaled by the
// max discount rate, and overflowing trades settle clipped with a suspicious
// activity signal.
func TestSwapClipsDiscountToCap(t *testing.T) {
	params := DefaultParams()
	params.MaxDiscountBps = 100
	f := newSettleFixture(t, params)
	creator := addr(1)
	f.register(t, creator)
	poolID := f.createPool(t, creator, basePool())

	caller := addr(2)
	f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)

	res, err := f.engine.Swap(baseRequest(caller, []discount.PoolID{poolID}), 1, 1)
	require.NoError(t, err)
	require.True(t, res.Clipped)
	// 100 bps of the 1000 raw output.
	require.Equal(t, big.NewInt(10), res.Discount)
	require.Equal(t, big.NewInt(1_010), res.AmountOut)

	suspicious := f.emitter.byType(events.TypeSuspiciousActivity)
	require.Len(t, suspicious, 1)
	require.Equal(t, big.NewInt(30), suspicious[0].(events.SuspiciousActivity).Requested)

	// The pool reserve only lost the clipped amount.
	pool, _ := f.pools.PoolByID(poolID)
	require.Equal(t, big.NewInt(99_990), pool.ReserveB)
}

func TestSwapPaysAffiliateCommission(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	affiliateAddr := addr(5)
	project := addr(6)
	f.register(t, affiliateAddr)

	id, err := f.affiliates.Create(&discount.Affiliate{
		Affiliate:     affiliateAddr,
		Project:       project,
		Asset:         "XYZ",
		DiscountBps:   200,
		CommissionBps: 1_000,
	})
	require.NoError(t, err)
	require.NoError(t, f.affiliates.Fund(id, project, big.NewInt(10_000)))
	require.NoError(t, f.affiliates.Verify(id))

	caller := addr(2)
	f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)

	req := baseRequest(caller, nil)
	req.AffiliateID = &id
	res, err := f.engine.Swap(req, 1, 1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(20), res.Discount)

	// 200 bps of 1000 = 20 discount; commission 2; platform cut 0 (10% of 2
	// rounds down to 0 at this size), so the affiliate keeps the full 2.
	require.Equal(t, int64(2), f.assets.balance("XYZ", affiliateAddr))

	affiliate, found := f.affiliates.AffiliateByID(id)
	require.True(t, found)
	require.Equal(t, big.NewInt(9_980), affiliate.Remaining)

	profile, _, err := f.identities.ProfileByOwner(affiliateAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2), profile.AffiliateEarnings)

	paid := f.emitter.byType(events.TypeAffiliateCommissionPaid)
	require.Len(t, paid, 1)
}

func TestSwapEnforcesVolumeWindow(t *testing.T) {
	params := DefaultParams()
	params.MaxVolumePerWindow = big.NewInt(1_500)
	f := newSettleFixture(t, params)
	caller := addr(2)
	f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)

	_, err := f.engine.Swap(baseRequest(caller, nil), 1, 1)
	require.NoError(t, err)

	_, err = f.engine.Swap(baseRequest(caller, nil), 1, 2)
	require.ErrorIs(t, err, common.ErrWindowVolumeExceeded)

	// A new window marker resets the usage.
	_, err = f.engine.Swap(baseRequest(caller, nil), 2, 3)
	require.NoError(t, err)
}

func TestSwapRejectsSlippage(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	caller := addr(2)
	f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)

	req := baseRequest(caller, nil)
	req.MinAmountOut = big.NewInt(2_000)
	_, err := f.engine.Swap(req, 1, 1)
	require.ErrorIs(t, err, ErrSlippage)
}

func TestSwapExchangeFailureIsFatal(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	caller := addr(2)
	f.register(t, caller)
	f.exchange.onSwap = func() error { return errors.New("reverted") }

	_, err := f.engine.Swap(baseRequest(caller, nil), 1, 1)
	require.ErrorIs(t, err, ErrExchangeFailure)

	settled := f.emitter.byType(events.TypeTradeSettled)
	require.Empty(t, settled)

	// The activity and badge writes that preceded the exchange call rolled
	// back with the settlement.
	profile, _, err := f.identities.ProfileByOwner(caller)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), profile.TotalVolume)
	require.Equal(t, uint64(0), profile.SwapCount)
	require.Equal(t, uint32(0), profile.ActivityStreak)
	require.Equal(t, uint32(0), profile.BadgeCount)
}

// A failed payout transfer must not leave claimed pool reserves behind: the
// caller received nothing, so the reserve decrement reverts with the rest of
// the settlement.
func TestSwapPayoutFailureLeavesNoTrace(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	creator := addr(1)
	f.register(t, creator)
	poolID := f.createPool(t, creator, basePool())

	caller := addr(2)
	f.register(t, caller)
	// The escrow only holds the raw exchange output; the 1030 payout cannot
	// be covered.

	_, err := f.engine.Swap(baseRequest(caller, []discount.PoolID{poolID}), 1, 1)
	require.ErrorIs(t, err, ErrTransferFailure)

	pool, found := f.pools.PoolByID(poolID)
	require.True(t, found)
	require.Equal(t, big.NewInt(100_000), pool.ReserveB)

	profile, _, err := f.identities.ProfileByOwner(caller)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), profile.TotalVolume)
	require.Equal(t, uint64(0), profile.SwapCount)
	require.Equal(t, int64(0), f.assets.balance("XYZ", caller))
	require.Empty(t, f.emitter.byType(events.TypeTradeSettled))
}

// A rejected settlement hands its window budget back; only settled trades
// consume the per-window volume allowance.
func TestSwapFailureRestoresWindowBudget(t *testing.T) {
	params := DefaultParams()
	params.MaxVolumePerWindow = big.NewInt(1_000)
	f := newSettleFixture(t, params)
	caller := addr(2)
	f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)

	f.exchange.onSwap = func() error { return errors.New("reverted") }
	_, err := f.engine.Swap(baseRequest(caller, nil), 1, 1)
	require.ErrorIs(t, err, ErrExchangeFailure)

	// The full window budget is still available within the same marker.
	f.exchange.onSwap = nil
	_, err = f.engine.Swap(baseRequest(caller, nil), 1, 2)
	require.NoError(t, err)
}

// A hostile asset whose transfer hook re-enters the distributor is rejected
// by the shared guard.
func TestSwapRejectsReentrantTransferHook(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	caller := addr(2)
	f.register(t, caller)
	f.assets.fund("XYZ", f.escrow, 10_000)

	var reentryErr error
	f.assets.onPayout = func() error {
		_, reentryErr = f.engine.Swap(baseRequest(caller, nil), 1, 1)
		return nil
	}

	_, err := f.engine.Swap(baseRequest(caller, nil), 1, 1)
	require.NoError(t, err)
	require.ErrorIs(t, reentryErr, common.ErrReentrantCall)
}

func TestSwapPausedModule(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	caller := addr(2)
	f.register(t, caller)
	f.engine.SetPauses(pausedModules{ModuleName: true})

	_, err := f.engine.Swap(baseRequest(caller, nil), 1, 1)
	require.ErrorIs(t, err, common.ErrModulePaused)
}

func TestCreateDiscountPoolAwardsBadge(t *testing.T) {
	f := newSettleFixture(t, DefaultParams())
	creator := addr(1)
	profileID := f.register(t, creator)

	_, err := f.engine.CreateDiscountPool(creator, basePool())
	require.NoError(t, err)

	profile, _, err := f.identities.ProfileByID(profileID)
	require.NoError(t, err)
	require.Equal(t, uint32(1), profile.BadgeCount)
}

type pausedModules map[string]bool

func (p pausedModules) IsPaused(module string) bool { return p[module] }
