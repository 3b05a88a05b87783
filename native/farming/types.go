package farming

import "math/big"

// Pool is a staking pool accruing boosted rewards. The accumulator invariant
// holds at every settled state: TotalBoostedShare equals the sum of
// amount*boost/BoostBase over all positions in the pool.
type Pool struct {
	ID                     uint32
	StakeAsset             string
	Weight                 uint32
	LastRewardUnix         uint64
	AccRewardPerShare      *big.Int
	TotalBoostedShare      *big.Int
	DepositFeeBps          uint32
	HarvestIntervalSeconds uint64
	WithdrawLockSeconds    uint64
}

// Clone produces a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AccRewardPerShare = cloneBigInt(p.AccRewardPerShare)
	clone.TotalBoostedShare = cloneBigInt(p.TotalBoostedShare)
	return &clone
}

// Normalize ensures all pointer fields are non-nil.
func (p *Pool) Normalize() *Pool {
	if p == nil {
		return nil
	}
	if p.AccRewardPerShare == nil {
		p.AccRewardPerShare = big.NewInt(0)
	}
	if p.TotalBoostedShare == nil {
		p.TotalBoostedShare = big.NewInt(0)
	}
	return p
}

// Position is a single owner's stake in a pool.
type Position struct {
	Owner           [20]byte
	Amount          *big.Int
	RewardDebt      *big.Int
	RewardLockedUp  *big.Int
	BoostMultiplier uint32
	LastDepositUnix uint64
	LastHarvestUnix uint64
}

// Clone produces a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = cloneBigInt(p.Amount)
	clone.RewardDebt = cloneBigInt(p.RewardDebt)
	clone.RewardLockedUp = cloneBigInt(p.RewardLockedUp)
	return &clone
}

// Normalize ensures all pointer fields are non-nil and the boost multiplier
// never falls below base.
func (p *Position) Normalize() *Position {
	if p == nil {
		return nil
	}
	if p.Amount == nil {
		p.Amount = big.NewInt(0)
	}
	if p.RewardDebt == nil {
		p.RewardDebt = big.NewInt(0)
	}
	if p.RewardLockedUp == nil {
		p.RewardLockedUp = big.NewInt(0)
	}
	if p.BoostMultiplier < BoostBase {
		p.BoostMultiplier = BoostBase
	}
	return p
}

// BoostedAmount returns amount scaled by the position's boost multiplier.
func (p *Position) BoostedAmount() *big.Int {
	return boostedShare(p.Amount, p.BoostMultiplier)
}

func boostedShare(amount *big.Int, boost uint32) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(boost)))
	return share.Quo(share, big.NewInt(int64(BoostBase)))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
