package identity

import "math/big"

// Profile is the per-owner loyalty record. A profile is minted once per owner
// and never destroyed; every derived attribute (tier, streak, badge counters)
// is recomputed from the raw metrics stored here.
type Profile struct {
	ID                uint64
	Owner             [20]byte
	TotalVolume       *big.Int
	Tier              uint8
	BadgeCount        uint32
	SwapCount         uint64
	SocialPoints      uint64
	ActivityStreak    uint32
	LastActivityUnix  uint64
	AffiliateEarnings *big.Int
	WindowVolume      *big.Int
	WindowMarker      uint64
}

// Clone produces a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalVolume = cloneBigInt(p.TotalVolume)
	clone.AffiliateEarnings = cloneBigInt(p.AffiliateEarnings)
	clone.WindowVolume = cloneBigInt(p.WindowVolume)
	return &clone
}

// Normalize ensures all pointer fields are non-nil. The method returns the
// receiver to allow chaining.
func (p *Profile) Normalize() *Profile {
	if p == nil {
		return nil
	}
	if p.TotalVolume == nil {
		p.TotalVolume = big.NewInt(0)
	}
	if p.AffiliateEarnings == nil {
		p.AffiliateEarnings = big.NewInt(0)
	}
	if p.WindowVolume == nil {
		p.WindowVolume = big.NewInt(0)
	}
	return p
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
