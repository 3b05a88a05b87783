package farming

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"perkledger/core/state"
	"perkledger/native/common"
	"perkledger/native/identity"
	"perkledger/storage"
)

type mockAssets struct {
	balances       map[string]map[[20]byte]*big.Int
	onTransfer     func(asset string) error
	onTransferFrom func(asset string) error
}

func newMockAssets() *mockAssets {
	return &mockAssets{balances: make(map[string]map[[20]byte]*big.Int)}
}

func (m *mockAssets) fund(asset string, owner [20]byte, amount int64) {
	if m.balances[asset] == nil {
		m.balances[asset] = make(map[[20]byte]*big.Int)
	}
	bal := m.balances[asset][owner]
	if bal == nil {
		bal = big.NewInt(0)
		m.balances[asset][owner] = bal
	}
	bal.Add(bal, big.NewInt(amount))
}

func (m *mockAssets) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if m.onTransfer != nil {
		if err := m.onTransfer(asset); err != nil {
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
	return nil
}

func (m *mockAssets) TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error {
	if m.onTransferFrom != nil {
		if err := m.onTransferFrom(asset); err != nil {
			return err
		}
	}
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

type farmFixture struct {
	st         *state.Manager
	identities *identity.Registry
	assets     *mockAssets
	engine     *Engine

	operator  [20]byte
	treasury  [20]byte
	escrow    [20]byte
	collector [20]byte
}

func farmAddr(b byte) [20]byte {
	var a [20]byte
	a[0] = b
	return a
}

func newFarmFixture(t *testing.T, rewardPerSecond int64) *farmFixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	identities := identity.NewRegistry(st)
	assets := newMockAssets()

	params := DefaultParams()
	params.RewardAsset = "RWD"
	params.RewardPerSecond = big.NewInt(rewardPerSecond)
	params.Operator = farmAddr(0xA0)
	params.Treasury = farmAddr(0xA1)
	params.Escrow = farmAddr(0xA2)
	params.FeeCollector = farmAddr(0xA3)

	engine, err := NewEngine(st, identities, assets, params)
	require.NoError(t, err)
	return &farmFixture{
		st:         st,
		identities: identities,
		assets:     assets,
		engine:     engine,
		operator:   params.Operator,
		treasury:   params.Treasury,
		escrow:     params.Escrow,
		collector:  params.FeeCollector,
	}
}

func (f *farmFixture) createPool(t *testing.T, pool *Pool) uint32 {
	t.Helper()
	id, err := f.engine.CreatePool(f.operator, pool)
	require.NoError(t, err)
	return id
}

func (f *farmFixture) stake(t *testing.T, owner [20]byte, amount int64) {
	t.Helper()
	f.assets.fund("STK", owner, amount)
}

func baseFarmPool() *Pool {
	return &Pool{StakeAsset: "STK", Weight: 1}
}

func TestCreatePoolRequiresOperator(t *testing.T) {
	f := newFarmFixture(t, 0)
	_, err := f.engine.CreatePool(farmAddr(0xFF), baseFarmPool())
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.CreatePool(f.operator, &Pool{StakeAsset: "STK"})
	require.ErrorIs(t, err, ErrInvalidPool)
}

// Two owners deposit 100 each, one at base boost and one boosted to 150 by a
// tier-five profile. The pool's boosted share must be 250, not 200.
func TestBoostedShareConservation(t *testing.T) {
	f := newFarmFixture(t, 0)
	poolID := f.createPool(t, baseFarmPool())
	now := uint64(1_700_000_000)

	plain := farmAddr(1)
	f.stake(t, plain, 100)
	require.NoError(t, f.engine.Deposit(plain, poolID, big.NewInt(100), now))

	boosted := farmAddr(2)
	id, err := f.identities.Register(boosted)
	require.NoError(t, err)
	_, _, err = f.identities.RecordActivity(id, big.NewInt(10_000_000), now)
	require.NoError(t, err)

	boost, err := f.engine.ResolveBoost(boosted)
	require.NoError(t, err)
	require.Equal(t, uint32(150), boost)

	f.stake(t, boosted, 100)
	require.NoError(t, f.engine.Deposit(boosted, poolID, big.NewInt(100), now))

	pool, found, err := f.engine.PoolByID(poolID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big.NewInt(250), pool.TotalBoostedShare)
}

func TestAccrualAndHarvest(t *testing.T) {
	f := newFarmFixture(t, 10)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	now := uint64(1_700_000_000)

	f.stake(t, owner, 100)
	f.assets.fund("RWD", f.treasury, 1_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	pending, err := f.engine.PendingReward(poolID, owner, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), pending)

	paid, err := f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), paid)
	require.Equal(t, int64(100), f.assets.balance("RWD", owner))

	// Immediately after harvest the position owes nothing.
	pending, err = f.engine.PendingReward(poolID, owner, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), pending)
}

func TestAccrualSplitsByPoolWeight(t *testing.T) {
	f := newFarmFixture(t, 10)
	lightID := f.createPool(t, baseFarmPool())
	heavy := baseFarmPool()
	heavy.Weight = 3
	f.createPool(t, heavy)

	owner := farmAddr(1)
	now := uint64(1_700_000_000)
	f.stake(t, owner, 100)
	require.NoError(t, f.engine.Deposit(owner, lightID, big.NewInt(100), now))

	// The weight-1 pool earns a quarter of the 400 emitted over 40 seconds.
	pending, err := f.engine.PendingReward(lightID, owner, now+40)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), pending)
}

func TestHarvestIntervalDefersPayout(t *testing.T) {
	f := newFarmFixture(t, 10)
	pool := baseFarmPool()
	pool.HarvestIntervalSeconds = 3_600
	poolID := f.createPool(t, pool)

	owner := farmAddr(1)
	now := uint64(1_700_000_000)
	f.stake(t, owner, 100)
	f.assets.fund("RWD", f.treasury, 100_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	paid, err := f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), paid)

	// The deferred amount stays owed and pays out once the interval elapses.
	paid, err = f.engine.Harvest(owner, poolID, now+3_600)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(36_000), paid)
}

func TestUnderfundedTreasuryPaysAvailable(t *testing.T) {
	f := newFarmFixture(t, 10)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	now := uint64(1_700_000_000)

	f.stake(t, owner, 100)
	f.assets.fund("RWD", f.treasury, 30)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	paid, err := f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(30), paid)

	// The shortfall stays owed to the position.
	pending, err := f.engine.PendingReward(poolID, owner, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(70), pending)

	f.assets.fund("RWD", f.treasury, 1_000)
	paid, err = f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(70), paid)
}

func TestDepositFee(t *testing.T) {
	f := newFarmFixture(t, 0)
	pool := baseFarmPool()
	pool.DepositFeeBps = 100
	poolID := f.createPool(t, pool)

	owner := farmAddr(1)
	f.stake(t, owner, 1_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(1_000), 1))

	require.Equal(t, int64(10), f.assets.balance("STK", f.collector))
	require.Equal(t, int64(990), f.assets.balance("STK", f.escrow))

	pos, found, err := f.engine.PositionOf(poolID, owner)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big.NewInt(990), pos.Amount)
}

func TestWithdrawLock(t *testing.T) {
	f := newFarmFixture(t, 0)
	pool := baseFarmPool()
	pool.WithdrawLockSeconds = 1_000
	poolID := f.createPool(t, pool)

	owner := farmAddr(1)
	now := uint64(1_700_000_000)
	f.stake(t, owner, 100)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	err := f.engine.Withdraw(owner, poolID, big.NewInt(100), now+10)
	require.ErrorIs(t, err, ErrWithdrawLocked)

	require.NoError(t, f.engine.Withdraw(owner, poolID, big.NewInt(100), now+1_000))
	require.Equal(t, int64(100), f.assets.balance("STK", owner))

	err = f.engine.Withdraw(owner, poolID, big.NewInt(1), now+1_000)
	require.ErrorIs(t, err, ErrInsufficientStake)
}

// An emergency exit returns the stake, zeroes the position and pays no
// rewards even with a funded treasury.
func TestEmergencyWithdrawForfeitsPending(t *testing.T) {
	f := newFarmFixture(t, 10)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	now := uint64(1_700_000_000)

	f.stake(t, owner, 100)
	f.assets.fund("RWD", f.treasury, 1_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))
	require.NoError(t, f.engine.Touch(poolID, now+10))

	require.NoError(t, f.engine.EmergencyWithdraw(owner, poolID))

	require.Equal(t, int64(100), f.assets.balance("STK", owner))
	require.Equal(t, int64(1_000), f.assets.balance("RWD", f.treasury))

	pos, found, err := f.engine.PositionOf(poolID, owner)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big.NewInt(0), pos.Amount)
	require.Equal(t, big.NewInt(0), pos.RewardDebt)
	require.Equal(t, BoostBase, pos.BoostMultiplier)

	pool, _, err := f.engine.PoolByID(poolID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), pool.TotalBoostedShare)
}

// A deposit that fails at the stake transfer must not pay the pending accrual
// on the side: the reward debt update rolls back with the deposit, and the
// accrual is payable exactly once afterwards.
func TestFailedStakeTransferDoesNotDoublePay(t *testing.T) {
	f := newFarmFixture(t, 10)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	now := uint64(1_700_000_000)

	f.stake(t, owner, 200)
	f.assets.fund("RWD", f.treasury, 1_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	f.assets.onTransferFrom = func(string) error { return errors.New("mock: revert") }
	err := f.engine.Deposit(owner, poolID, big.NewInt(100), now+10)
	require.Error(t, err)
	f.assets.onTransferFrom = nil

	// Nothing left the treasury during the failed call.
	require.Equal(t, int64(0), f.assets.balance("RWD", owner))
	require.Equal(t, int64(1_000), f.assets.balance("RWD", f.treasury))

	paid, err := f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), paid)
	require.Equal(t, int64(100), f.assets.balance("RWD", owner))
	require.Equal(t, int64(900), f.assets.balance("RWD", f.treasury))
}

// A deposit whose reward payment fails still lands; the settled amount stays
// owed to the position and pays out on the next harvest.
func TestFailedRewardPaymentDefersToNextHarvest(t *testing.T) {
	f := newFarmFixture(t, 10)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	now := uint64(1_700_000_000)

	f.stake(t, owner, 200)
	f.assets.fund("RWD", f.treasury, 1_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	f.assets.onTransfer = func(asset string) error {
		if asset == "RWD" {
			return errors.New("mock: revert")
		}
		return nil
	}
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now+10))
	require.Equal(t, int64(0), f.assets.balance("RWD", owner))
	f.assets.onTransfer = nil

	pos, found, err := f.engine.PositionOf(poolID, owner)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big.NewInt(200), pos.Amount)

	pending, err := f.engine.PendingReward(poolID, owner, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), pending)

	paid, err := f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), paid)
}

// A harvest whose payment fails reverts in full: the claim is neither lost
// nor duplicated.
func TestHarvestPaymentFailureLeavesClaimIntact(t *testing.T) {
	f := newFarmFixture(t, 10)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	now := uint64(1_700_000_000)

	f.stake(t, owner, 100)
	f.assets.fund("RWD", f.treasury, 1_000)
	require.NoError(t, f.engine.Deposit(owner, poolID, big.NewInt(100), now))

	f.assets.onTransfer = func(string) error { return errors.New("mock: revert") }
	_, err := f.engine.Harvest(owner, poolID, now+10)
	require.Error(t, err)
	f.assets.onTransfer = nil

	pending, err := f.engine.PendingReward(poolID, owner, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), pending)

	paid, err := f.engine.Harvest(owner, poolID, now+10)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), paid)
	require.Equal(t, int64(100), f.assets.balance("RWD", owner))
}

func TestGuardAndPauseRejectEntry(t *testing.T) {
	f := newFarmFixture(t, 0)
	poolID := f.createPool(t, baseFarmPool())
	owner := farmAddr(1)
	f.stake(t, owner, 100)

	guard := common.NewCallGuard()
	f.engine.SetGuard(guard)
	require.NoError(t, guard.Enter("settlement.swap"))
	err := f.engine.Deposit(owner, poolID, big.NewInt(100), 1)
	require.ErrorIs(t, err, common.ErrReentrantCall)
	guard.Exit()

	f.engine.SetPauses(pausedModules{ModuleName: true})
	err = f.engine.Deposit(owner, poolID, big.NewInt(100), 1)
	require.ErrorIs(t, err, common.ErrModulePaused)
}

type pausedModules map[string]bool

func (p pausedModules) IsPaused(module string) bool { return p[module] }
