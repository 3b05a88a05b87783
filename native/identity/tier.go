package identity

import "math/big"

// MaxTier is the highest loyalty tier.
const MaxTier uint8 = 5

// tierThresholds holds the cumulative volume (smallest denomination) required
// to reach each tier above zero. The buckets are fixed; the stored tier on a
// profile is a cache of TierForVolume and never a second source of truth.
var tierThresholds = []*big.Int{
	big.NewInt(1_000),      // tier 1
	big.NewInt(10_000),     // tier 2
	big.NewInt(100_000),    // tier 3
	big.NewInt(1_000_000),  // tier 4
	big.NewInt(10_000_000), // tier 5
}

// TierForVolume derives the loyalty tier from cumulative trading volume. The
// function is pure and monotonic in its argument.
func TierForVolume(volume *big.Int) uint8 {
	if volume == nil || volume.Sign() <= 0 {
		return 0
	}
	tier := uint8(0)
	for i, threshold := range tierThresholds {
		if volume.Cmp(threshold) < 0 {
			break
		}
		tier = uint8(i + 1)
	}
	return tier
}

// TierThreshold returns the cumulative volume required for the given tier. It
// returns zero for tier zero and the top threshold for out-of-range input.
func TierThreshold(tier uint8) *big.Int {
	if tier == 0 {
		return big.NewInt(0)
	}
	if int(tier) > len(tierThresholds) {
		tier = uint8(len(tierThresholds))
	}
	return new(big.Int).Set(tierThresholds[tier-1])
}
