package discount

import (
	"math/big"
	"strings"
)

// PoolID uniquely identifies a discount pool. It is derived as
// keccak256(creator || assetA || assetB || sequence) at creation time.
type PoolID [32]byte

// AffiliateID uniquely identifies an affiliate discount.
type AffiliateID [32]byte

// Pool is a creator-funded reserve that rebates a percentage of qualifying
// trades on its asset pair. Reserve-backed pools never pay out more than the
// remaining reserve of the output asset and deactivate once both reserves are
// exhausted.
type Pool struct {
	ID                   PoolID
	Creator              [20]byte
	CreatorProfile       uint64
	AssetA               string
	AssetB               string
	ReserveA             *big.Int
	ReserveB             *big.Int
	DiscountBps          uint32
	MinTradeSize         *big.Int
	MaxDiscountPerTrade  *big.Int
	TotalVolumeGenerated *big.Int
	ExpiryUnix           uint64
	CooldownSeconds      uint64
	ReserveBacked        bool
	Active               bool
}

// Clone produces a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ReserveA = cloneBigInt(p.ReserveA)
	clone.ReserveB = cloneBigInt(p.ReserveB)
	clone.MinTradeSize = cloneBigInt(p.MinTradeSize)
	clone.MaxDiscountPerTrade = cloneBigInt(p.MaxDiscountPerTrade)
	clone.TotalVolumeGenerated = cloneBigInt(p.TotalVolumeGenerated)
	return &clone
}

// Normalize ensures all pointer fields are non-nil and asset symbols are
// canonical. The method returns the receiver to allow chaining.
func (p *Pool) Normalize() *Pool {
	if p == nil {
		return nil
	}
	p.AssetA = NormalizeAsset(p.AssetA)
	p.AssetB = NormalizeAsset(p.AssetB)
	p.ReserveA = orZero(p.ReserveA)
	p.ReserveB = orZero(p.ReserveB)
	p.MinTradeSize = orZero(p.MinTradeSize)
	p.MaxDiscountPerTrade = orZero(p.MaxDiscountPerTrade)
	p.TotalVolumeGenerated = orZero(p.TotalVolumeGenerated)
	return p
}

// MatchesPair reports whether the pool covers the trade's asset pair in either
// direction.
func (p *Pool) MatchesPair(assetIn, assetOut string) bool {
	in := NormalizeAsset(assetIn)
	out := NormalizeAsset(assetOut)
	return (p.AssetA == in && p.AssetB == out) || (p.AssetA == out && p.AssetB == in)
}

// ReserveOf returns the remaining reserve held in the given asset. The second
// return value is false when the asset is not part of the pair.
func (p *Pool) ReserveOf(asset string) (*big.Int, bool) {
	switch NormalizeAsset(asset) {
	case p.AssetA:
		return cloneBigInt(p.ReserveA), true
	case p.AssetB:
		return cloneBigInt(p.ReserveB), true
	default:
		return nil, false
	}
}

// Depleted reports whether both reserves are exhausted.
func (p *Pool) Depleted() bool {
	return orZero(p.ReserveA).Sign() == 0 && orZero(p.ReserveB).Sign() == 0
}

// Expired reports whether the pool's expiration has passed at the given time.
func (p *Pool) Expired(nowUnix uint64) bool {
	return p.ExpiryUnix > 0 && nowUnix >= p.ExpiryUnix
}

// Affiliate is a project-funded discount that pays the affiliate a commission
// on every qualifying use. The remaining balance only decreases; once it
// reaches zero the discount deactivates and is never reactivated.
type Affiliate struct {
	ID              AffiliateID
	Affiliate       [20]byte
	Project         [20]byte
	Asset           string
	DiscountBps     uint32
	CommissionBps   uint32
	Funded          *big.Int
	Remaining       *big.Int
	VolumeGenerated *big.Int
	ExpiryUnix      uint64
	MaxUsagePerUser uint32
	Active          bool
	Verified        bool
}

// Clone produces a deep copy of the affiliate discount.
func (a *Affiliate) Clone() *Affiliate {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Funded = cloneBigInt(a.Funded)
	clone.Remaining = cloneBigInt(a.Remaining)
	clone.VolumeGenerated = cloneBigInt(a.VolumeGenerated)
	return &clone
}

// Normalize ensures all pointer fields are non-nil and the asset symbol is
// canonical.
func (a *Affiliate) Normalize() *Affiliate {
	if a == nil {
		return nil
	}
	a.Asset = NormalizeAsset(a.Asset)
	a.Funded = orZero(a.Funded)
	a.Remaining = orZero(a.Remaining)
	a.VolumeGenerated = orZero(a.VolumeGenerated)
	return a
}

// Expired reports whether the discount's expiration has passed.
func (a *Affiliate) Expired(nowUnix uint64) bool {
	return a.ExpiryUnix > 0 && nowUnix >= a.ExpiryUnix
}

// NormalizeAsset canonicalises an asset symbol.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
