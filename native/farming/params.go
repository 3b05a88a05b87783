package farming

import (
	"errors"
	"fmt"
	"math/big"
)

// ModuleName identifies the engine for pause checks and re-entrancy guards.
const ModuleName = "farming"

const (
	// BoostBase is the neutral boost multiplier. A position at base boost
	// contributes exactly its staked amount to the pool's boosted share.
	BoostBase uint32 = 100
	// BpsDenominator fixes the basis point scale for deposit fees.
	BpsDenominator uint32 = 10_000

	// DefaultTierBoostStep adds 10 boost points per loyalty tier.
	DefaultTierBoostStep uint32 = 10
	// DefaultBadgeBoostStep adds 2 boost points per unlocked badge.
	DefaultBadgeBoostStep uint32 = 2
	// DefaultBoostCeiling caps the badge-derived boost contribution.
	DefaultBoostCeiling uint32 = 200
	// DefaultMaxBoost clamps the fully composed multiplier.
	DefaultMaxBoost uint32 = 300
)

// Precision scales the reward-per-share accumulator so integer division on
// small stakes does not strand rewards.
var Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var errInvalidParams = errors.New("farming: invalid params")

// Params configures the accounting engine. Treasury funds reward payouts,
// Escrow custodies staked assets and FeeCollector receives deposit fees.
type Params struct {
	RewardAsset     string
	RewardPerSecond *big.Int
	Operator        [20]byte
	Treasury        [20]byte
	Escrow          [20]byte
	FeeCollector    [20]byte
	TierBoostStep   uint32
	BadgeBoostStep  uint32
	BoostCeiling    uint32
	MaxBoost        uint32
}

// DefaultParams returns the stock boost schedule with an empty reward budget.
func DefaultParams() Params {
	return Params{
		RewardPerSecond: big.NewInt(0),
		TierBoostStep:   DefaultTierBoostStep,
		BadgeBoostStep:  DefaultBadgeBoostStep,
		BoostCeiling:    DefaultBoostCeiling,
		MaxBoost:        DefaultMaxBoost,
	}
}

// Normalize fills nil numeric fields in place and returns the params.
func (p *Params) Normalize() *Params {
	if p == nil {
		return nil
	}
	if p.RewardPerSecond == nil {
		p.RewardPerSecond = big.NewInt(0)
	}
	return p
}

// Validate checks the boost schedule is internally consistent.
func (p Params) Validate() error {
	if p.RewardPerSecond != nil && p.RewardPerSecond.Sign() < 0 {
		return fmt.Errorf("%w: negative reward rate", errInvalidParams)
	}
	if p.BoostCeiling < BoostBase {
		return fmt.Errorf("%w: boost ceiling below base", errInvalidParams)
	}
	if p.MaxBoost < BoostBase {
		return fmt.Errorf("%w: max boost below base", errInvalidParams)
	}
	if p.MaxBoost < p.BoostCeiling {
		return fmt.Errorf("%w: max boost below ceiling", errInvalidParams)
	}
	return nil
}
