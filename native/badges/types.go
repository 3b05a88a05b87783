package badges

import "math/big"

// Category is the closed set of metrics a badge requirement can bind to. The
// engine matches on the variant; there is no dynamic dispatch.
type Category uint8

const (
	// CategorySwapCount unlocks on lifetime settled swap count.
	CategorySwapCount Category = iota + 1
	// CategoryVolume unlocks on cumulative trading volume.
	CategoryVolume
	// CategoryStreak unlocks on the consecutive-activity-day streak.
	CategoryStreak
	// CategoryPoolCreation unlocks on the number of discount pools created.
	CategoryPoolCreation
	// CategoryDiscountUsage unlocks on the number of discounts claimed.
	CategoryDiscountUsage
)

// String returns the canonical category name used in events and logs.
func (c Category) String() string {
	switch c {
	case CategorySwapCount:
		return "swap_count"
	case CategoryVolume:
		return "volume"
	case CategoryStreak:
		return "streak"
	case CategoryPoolCreation:
		return "pool_creation"
	case CategoryDiscountUsage:
		return "discount_usage"
	default:
		return "unknown"
	}
}

// Valid reports whether the category is a member of the closed set.
func (c Category) Valid() bool {
	return c >= CategorySwapCount && c <= CategoryDiscountUsage
}

// Badge describes a one-time achievement unlock. Badges are defined when the
// catalog is initialised and are immutable thereafter: requirement and points
// never change for an issued badge id.
type Badge struct {
	ID          uint32
	Name        string
	Category    Category
	Requirement *big.Int
	Points      uint64
	Active      bool
}

// Clone produces a deep copy of the badge definition.
func (b Badge) Clone() Badge {
	clone := b
	if b.Requirement != nil {
		clone.Requirement = new(big.Int).Set(b.Requirement)
	}
	return clone
}
