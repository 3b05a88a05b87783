package farming

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"perkledger/core/events"
	"perkledger/native/common"
	"perkledger/native/identity"
)

var (
	poolCountKey   = []byte("farming/pools/count")
	totalWeightKey = []byte("farming/pools/weight-total")
)

func poolKey(id uint32) []byte {
	buf := make([]byte, 0, 14+4)
	buf = append(buf, []byte("farming/pool/")...)
	return binary.BigEndian.AppendUint32(buf, id)
}

func positionKey(poolID uint32, owner [20]byte) []byte {
	buf := make([]byte, 0, 13+4+20)
	buf = append(buf, []byte("farming/pos/")...)
	buf = binary.BigEndian.AppendUint32(buf, poolID)
	return append(buf, owner[:]...)
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int) error
}

type identitySource interface {
	ProfileByOwner(owner [20]byte) (*identity.Profile, bool, error)
}

// Engine maintains the boosted reward accumulator over staking pools. All
// mutating entry points share the settlement re-entrancy guard and honour the
// administrative pause view.
type Engine struct {
	st         engineState
	identities identitySource
	assets     common.Transferor
	params     Params
	guard      *common.CallGuard
	pauses     common.PauseView
	emitter    events.Emitter
}

// NewEngine wires the accounting engine over the supplied state and
// collaborators.
func NewEngine(st engineState, identities identitySource, assets common.Transferor, params Params) (*Engine, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		st:         st,
		identities: identities,
		assets:     assets,
		params:     params,
		emitter:    events.NoopEmitter{},
	}, nil
}

// SetEmitter overrides the default no-op event emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetGuard installs the shared re-entrancy guard.
func (e *Engine) SetGuard(guard *common.CallGuard) { e.guard = guard }

// SetPauses installs the administrative pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// Params returns a copy of the engine configuration.
func (e *Engine) Params() Params {
	p := e.params
	p.RewardPerSecond = cloneBigInt(e.params.RewardPerSecond)
	return p
}

// CreatePool registers a staking pool. Only the configured operator may add
// pools; the pool weight immediately dilutes every existing pool's share of
// the reward rate.
func (e *Engine) CreatePool(operator [20]byte, pool *Pool) (uint32, error) {
	if operator != e.params.Operator {
		return 0, ErrUnauthorized
	}
	if pool == nil {
		return 0, ErrInvalidPool
	}
	pool = pool.Clone().Normalize()
	pool.StakeAsset = strings.ToUpper(strings.TrimSpace(pool.StakeAsset))
	if pool.StakeAsset == "" {
		return 0, fmt.Errorf("%w: missing stake asset", ErrInvalidPool)
	}
	if pool.Weight == 0 {
		return 0, fmt.Errorf("%w: zero weight", ErrInvalidPool)
	}
	if pool.DepositFeeBps > BpsDenominator {
		return 0, fmt.Errorf("%w: deposit fee above %d bps", ErrInvalidPool, BpsDenominator)
	}

	var count uint32
	if _, err := e.st.KVGet(poolCountKey, &count); err != nil {
		return 0, err
	}
	pool.ID = count + 1
	pool.AccRewardPerShare = big.NewInt(0)
	pool.TotalBoostedShare = big.NewInt(0)

	totalWeight, err := e.totalWeight()
	if err != nil {
		return 0, err
	}
	if err := e.st.KVPut(totalWeightKey, totalWeight+uint64(pool.Weight)); err != nil {
		return 0, err
	}
	if err := e.st.KVPut(poolCountKey, pool.ID); err != nil {
		return 0, err
	}
	if err := e.st.KVPut(poolKey(pool.ID), pool); err != nil {
		return 0, err
	}
	return pool.ID, nil
}

// PoolByID loads a pool.
func (e *Engine) PoolByID(id uint32) (*Pool, bool, error) {
	var pool Pool
	found, err := e.st.KVGet(poolKey(id), &pool)
	if err != nil || !found {
		return nil, false, err
	}
	return pool.Normalize(), true, nil
}

// PositionOf loads an owner's position in a pool.
func (e *Engine) PositionOf(poolID uint32, owner [20]byte) (*Position, bool, error) {
	var pos Position
	found, err := e.st.KVGet(positionKey(poolID, owner), &pos)
	if err != nil || !found {
		return nil, false, err
	}
	return pos.Normalize(), true, nil
}

// ResolveBoost derives the boost multiplier from the owner's loyalty profile.
// Owners without a profile stake at base boost.
func (e *Engine) ResolveBoost(owner [20]byte) (uint32, error) {
	if e.identities == nil {
		return BoostBase, nil
	}
	profile, found, err := e.identities.ProfileByOwner(owner)
	if err != nil {
		return 0, err
	}
	if !found {
		return BoostBase, nil
	}
	badgeBoost := uint64(profile.BadgeCount) * uint64(e.params.BadgeBoostStep)
	if ceiling := uint64(e.params.BoostCeiling - BoostBase); badgeBoost > ceiling {
		badgeBoost = ceiling
	}
	boost := uint64(BoostBase) + uint64(profile.Tier)*uint64(e.params.TierBoostStep) + badgeBoost
	if boost > uint64(e.params.MaxBoost) {
		boost = uint64(e.params.MaxBoost)
	}
	return uint32(boost), nil
}

// Touch advances a pool's reward accumulator to now.
func (e *Engine) Touch(poolID uint32, nowUnix uint64) error {
	pool, found, err := e.PoolByID(poolID)
	if err != nil {
		return err
	}
	if !found {
		return ErrPoolNotFound
	}
	if err := e.touch(pool, nowUnix); err != nil {
		return err
	}
	return e.st.KVPut(poolKey(pool.ID), pool)
}

// Deposit stakes amount into the pool for owner. The stake moves into module
// escrow, the deposit fee goes to the fee collector, and any pending rewards
// on an existing position settle first.
func (e *Engine) Deposit(owner [20]byte, poolID uint32, amount *big.Int, nowUnix uint64) error {
	if err := e.enter("farming.deposit"); err != nil {
		return err
	}
	defer e.guard.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	pool, found, err := e.PoolByID(poolID)
	if err != nil {
		return err
	}
	if !found {
		return ErrPoolNotFound
	}
	pos, found, err := e.PositionOf(poolID, owner)
	if err != nil {
		return err
	}
	if !found {
		pos = (&Position{Owner: owner, BoostMultiplier: BoostBase, LastHarvestUnix: nowUnix}).Normalize()
	}

	if err := e.touch(pool, nowUnix); err != nil {
		return err
	}
	if err := e.updateBoost(pool, pos); err != nil {
		return err
	}
	owed, payable := big.NewInt(0), big.NewInt(0)
	if pos.Amount.Sign() > 0 {
		var err error
		owed, payable, err = e.settle(pool, pos, nowUnix)
		if err != nil {
			return err
		}
	}

	if err := e.assets.TransferFrom(pool.StakeAsset, e.params.Escrow, owner, e.params.Escrow, amount); err != nil {
		return fmt.Errorf("farming: stake transfer failed: %w", err)
	}
	fee := big.NewInt(0)
	if pool.DepositFeeBps > 0 {
		fee.Mul(amount, new(big.Int).SetUint64(uint64(pool.DepositFeeBps)))
		fee.Quo(fee, new(big.Int).SetUint64(uint64(BpsDenominator)))
		if fee.Sign() > 0 {
			if err := e.assets.Transfer(pool.StakeAsset, e.params.Escrow, e.params.FeeCollector, fee); err != nil {
				return fmt.Errorf("farming: fee transfer failed: %w", err)
			}
		}
	}
	net := new(big.Int).Sub(amount, fee)

	pos.Amount.Add(pos.Amount, net)
	pool.TotalBoostedShare.Add(pool.TotalBoostedShare, boostedShare(net, pos.BoostMultiplier))
	pos.LastDepositUnix = nowUnix
	pos.RewardDebt = e.accumulated(pool, pos)

	snap := e.st.Snapshot()
	if err := e.persist(pool, pos); err != nil {
		e.st.RevertToSnapshot(snap)
		return err
	}
	if err := e.st.Commit(snap); err != nil {
		return err
	}

	// The settled debt is durable before the treasury pays anything; a failed
	// payment stays owed to the position instead of failing the deposit.
	if err := e.payReward(pool, pos, owed, payable); err != nil {
		if err := e.deferReward(pool, pos, payable); err != nil {
			return err
		}
	}
	e.emit(events.Deposited{Pool: pool.ID, Owner: owner, Amount: net, Fee: fee})
	return nil
}

// Withdraw unstakes amount after the pool's lock period, settling pending
// rewards first.
func (e *Engine) Withdraw(owner [20]byte, poolID uint32, amount *big.Int, nowUnix uint64) error {
	if err := e.enter("farming.withdraw"); err != nil {
		return err
	}
	defer e.guard.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	pool, pos, err := e.loadPair(poolID, owner)
	if err != nil {
		return err
	}
	if amount.Cmp(pos.Amount) > 0 {
		return ErrInsufficientStake
	}
	if nowUnix < pos.LastDepositUnix+pool.WithdrawLockSeconds {
		return fmt.Errorf("%w: until %d", ErrWithdrawLocked, pos.LastDepositUnix+pool.WithdrawLockSeconds)
	}

	if err := e.touch(pool, nowUnix); err != nil {
		return err
	}
	if err := e.updateBoost(pool, pos); err != nil {
		return err
	}
	owed, payable, err := e.settle(pool, pos, nowUnix)
	if err != nil {
		return err
	}

	pos.Amount.Sub(pos.Amount, amount)
	pool.TotalBoostedShare.Sub(pool.TotalBoostedShare, boostedShare(amount, pos.BoostMultiplier))
	pos.RewardDebt = e.accumulated(pool, pos)

	snap := e.st.Snapshot()
	if err := e.persist(pool, pos); err != nil {
		e.st.RevertToSnapshot(snap)
		return err
	}
	if err := e.assets.Transfer(pool.StakeAsset, e.params.Escrow, owner, amount); err != nil {
		e.st.RevertToSnapshot(snap)
		return fmt.Errorf("farming: unstake transfer failed: %w", err)
	}
	if err := e.st.Commit(snap); err != nil {
		return err
	}
	if err := e.payReward(pool, pos, owed, payable); err != nil {
		if err := e.deferReward(pool, pos, payable); err != nil {
			return err
		}
	}
	e.emit(events.Withdrawn{Pool: pool.ID, Owner: owner, Amount: new(big.Int).Set(amount)})
	return nil
}

// Harvest settles and pays the position's pending rewards. The paid amount is
// returned; it can be lower than the accrued pending when the harvest
// interval has not elapsed or the treasury is underfunded.
func (e *Engine) Harvest(owner [20]byte, poolID uint32, nowUnix uint64) (*big.Int, error) {
	if err := e.enter("farming.harvest"); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	pool, pos, err := e.loadPair(poolID, owner)
	if err != nil {
		return nil, err
	}
	if err := e.touch(pool, nowUnix); err != nil {
		return nil, err
	}
	if err := e.updateBoost(pool, pos); err != nil {
		return nil, err
	}
	owed, payable, err := e.settle(pool, pos, nowUnix)
	if err != nil {
		return nil, err
	}

	// Persist-then-pay inside one frame: a failed payment reverts the debt
	// update, so the claim is neither lost nor duplicated.
	snap := e.st.Snapshot()
	if err := e.persist(pool, pos); err != nil {
		e.st.RevertToSnapshot(snap)
		return nil, err
	}
	if err := e.payReward(pool, pos, owed, payable); err != nil {
		e.st.RevertToSnapshot(snap)
		return nil, err
	}
	if err := e.st.Commit(snap); err != nil {
		return nil, err
	}
	return payable, nil
}

// UpdatePositionBoost refreshes the position's boost multiplier from the
// owner's current loyalty profile, settling accrued rewards on the way so the
// boosted-share invariant holds.
func (e *Engine) UpdatePositionBoost(owner [20]byte, poolID uint32, nowUnix uint64) (uint32, error) {
	if err := e.enter("farming.boost"); err != nil {
		return 0, err
	}
	defer e.guard.Exit()

	pool, pos, err := e.loadPair(poolID, owner)
	if err != nil {
		return 0, err
	}
	if err := e.touch(pool, nowUnix); err != nil {
		return 0, err
	}
	if err := e.updateBoost(pool, pos); err != nil {
		return 0, err
	}
	owed, payable, err := e.settle(pool, pos, nowUnix)
	if err != nil {
		return 0, err
	}
	snap := e.st.Snapshot()
	if err := e.persist(pool, pos); err != nil {
		e.st.RevertToSnapshot(snap)
		return 0, err
	}
	if err := e.payReward(pool, pos, owed, payable); err != nil {
		e.st.RevertToSnapshot(snap)
		return 0, err
	}
	if err := e.st.Commit(snap); err != nil {
		return 0, err
	}
	return pos.BoostMultiplier, nil
}

// EmergencyWithdraw returns the full stake without settling rewards. Pending
// rewards are forfeited; the failsafe exists for when reward accounting
// cannot be trusted.
func (e *Engine) EmergencyWithdraw(owner [20]byte, poolID uint32) error {
	if err := e.enter("farming.emergency"); err != nil {
		return err
	}
	defer e.guard.Exit()

	pool, pos, err := e.loadPair(poolID, owner)
	if err != nil {
		return err
	}

	amount := new(big.Int).Set(pos.Amount)
	boosted := pos.BoostedAmount()
	forfeited := new(big.Int).Sub(e.accumulated(pool, pos), pos.RewardDebt)
	forfeited.Add(forfeited, pos.RewardLockedUp)

	pool.TotalBoostedShare.Sub(pool.TotalBoostedShare, boosted)
	pos.Amount = big.NewInt(0)
	pos.RewardDebt = big.NewInt(0)
	pos.RewardLockedUp = big.NewInt(0)
	pos.BoostMultiplier = BoostBase

	snap := e.st.Snapshot()
	if err := e.persist(pool, pos); err != nil {
		e.st.RevertToSnapshot(snap)
		return err
	}
	if amount.Sign() > 0 {
		if err := e.assets.Transfer(pool.StakeAsset, e.params.Escrow, owner, amount); err != nil {
			e.st.RevertToSnapshot(snap)
			return fmt.Errorf("farming: emergency transfer failed: %w", err)
		}
	}
	if err := e.st.Commit(snap); err != nil {
		return err
	}
	e.emit(events.EmergencyExit{Pool: pool.ID, Owner: owner, Amount: amount, Forfeited: forfeited})
	return nil
}

// PendingReward reports the rewards the position would settle at now. Pure
// read; nothing is persisted.
func (e *Engine) PendingReward(poolID uint32, owner [20]byte, nowUnix uint64) (*big.Int, error) {
	pool, found, err := e.PoolByID(poolID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPoolNotFound
	}
	pos, found, err := e.PositionOf(poolID, owner)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	if err := e.touch(pool, nowUnix); err != nil {
		return nil, err
	}
	pending := new(big.Int).Sub(e.accumulated(pool, pos), pos.RewardDebt)
	return pending.Add(pending, pos.RewardLockedUp), nil
}

// touch advances the accumulator in memory. With no boosted share staked the
// elapsed time is skipped rather than banked.
func (e *Engine) touch(pool *Pool, nowUnix uint64) error {
	if nowUnix <= pool.LastRewardUnix {
		return nil
	}
	if pool.TotalBoostedShare.Sign() == 0 {
		pool.LastRewardUnix = nowUnix
		return nil
	}
	totalWeight, err := e.totalWeight()
	if err != nil {
		return err
	}
	if totalWeight == 0 {
		pool.LastRewardUnix = nowUnix
		return nil
	}
	elapsed := nowUnix - pool.LastRewardUnix
	reward := new(big.Int).SetUint64(elapsed)
	reward.Mul(reward, e.params.RewardPerSecond)
	reward.Mul(reward, new(big.Int).SetUint64(uint64(pool.Weight)))
	reward.Quo(reward, new(big.Int).SetUint64(totalWeight))

	delta := reward.Mul(reward, Precision)
	delta.Quo(delta, pool.TotalBoostedShare)
	pool.AccRewardPerShare.Add(pool.AccRewardPerShare, delta)
	pool.LastRewardUnix = nowUnix
	return nil
}

func (e *Engine) updateBoost(pool *Pool, pos *Position) error {
	newBoost, err := e.ResolveBoost(pos.Owner)
	if err != nil {
		return err
	}
	oldBoost := pos.BoostMultiplier
	if newBoost == oldBoost {
		return nil
	}
	oldShare := boostedShare(pos.Amount, oldBoost)
	newShare := boostedShare(pos.Amount, newBoost)
	pool.TotalBoostedShare.Add(pool.TotalBoostedShare, newShare.Sub(newShare, oldShare))
	pos.BoostMultiplier = newBoost
	e.emit(events.BoostUpdated{Pool: pool.ID, Owner: pos.Owner, OldBoost: oldBoost, NewBoost: newBoost})
	return nil
}

// settle folds newly accrued rewards into the position's owed balance and
// decides the payable portion: zero before the harvest interval elapses,
// otherwise the owed amount clipped to the treasury balance. The unpaid
// remainder stays owed to the position. Nothing is transferred here; the
// caller pays the returned amount only after the settled debt is durable.
func (e *Engine) settle(pool *Pool, pos *Position, nowUnix uint64) (owed, payable *big.Int, err error) {
	accumulated := e.accumulated(pool, pos)
	owed = new(big.Int).Sub(accumulated, pos.RewardDebt)
	owed.Add(owed, pos.RewardLockedUp)
	pos.RewardDebt = accumulated
	payable = big.NewInt(0)

	if owed.Sign() <= 0 {
		pos.RewardLockedUp = big.NewInt(0)
		return owed, payable, nil
	}
	if nowUnix < pos.LastHarvestUnix+pool.HarvestIntervalSeconds {
		pos.RewardLockedUp = owed
		return owed, payable, nil
	}

	available, err := e.assets.BalanceOf(e.params.RewardAsset, e.params.Treasury)
	if err != nil {
		return nil, nil, fmt.Errorf("farming: reward balance lookup failed: %w", err)
	}
	payable.Set(owed)
	if available != nil && payable.Cmp(available) > 0 {
		payable.Set(available)
	}
	pos.RewardLockedUp = new(big.Int).Sub(owed, payable)
	pos.LastHarvestUnix = nowUnix
	return owed, payable, nil
}

// payReward delivers a settled payout from the treasury.
func (e *Engine) payReward(pool *Pool, pos *Position, owed, payable *big.Int) error {
	if payable.Sign() <= 0 {
		return nil
	}
	if err := e.assets.Transfer(e.params.RewardAsset, e.params.Treasury, pos.Owner, payable); err != nil {
		return fmt.Errorf("farming: reward transfer failed: %w", err)
	}
	e.emit(events.Harvested{Pool: pool.ID, Owner: pos.Owner, Pending: owed, Paid: new(big.Int).Set(payable)})
	return nil
}

// deferReward returns an unpayable settled amount to the position's owed
// balance and persists it, so the claim survives a failed treasury transfer
// without ever becoming payable twice.
func (e *Engine) deferReward(pool *Pool, pos *Position, payable *big.Int) error {
	pos.RewardLockedUp.Add(pos.RewardLockedUp, payable)
	return e.st.KVPut(positionKey(pool.ID, pos.Owner), pos)
}

func (e *Engine) accumulated(pool *Pool, pos *Position) *big.Int {
	acc := new(big.Int).Mul(pos.BoostedAmount(), pool.AccRewardPerShare)
	return acc.Quo(acc, Precision)
}

func (e *Engine) loadPair(poolID uint32, owner [20]byte) (*Pool, *Position, error) {
	pool, found, err := e.PoolByID(poolID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrPoolNotFound
	}
	pos, found, err := e.PositionOf(poolID, owner)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrPositionNotFound
	}
	return pool, pos, nil
}

func (e *Engine) persist(pool *Pool, pos *Position) error {
	if err := e.st.KVPut(poolKey(pool.ID), pool); err != nil {
		return err
	}
	return e.st.KVPut(positionKey(pool.ID, pos.Owner), pos)
}

func (e *Engine) totalWeight() (uint64, error) {
	var weight uint64
	if _, err := e.st.KVGet(totalWeightKey, &weight); err != nil {
		return 0, err
	}
	return weight, nil
}

func (e *Engine) enter(op string) error {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	return e.guard.Enter(op)
}

func (e *Engine) emit(event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
