package badges

import (
	"fmt"
	"math/big"
	"sort"
)

// Catalog holds the fixed badge definitions grouped by category. It is built
// once at startup and never mutated afterwards.
type Catalog struct {
	byCategory map[Category][]Badge
	byID       map[uint32]Badge
}

// NewCatalog validates and indexes the provided definitions.
func NewCatalog(defs []Badge) (*Catalog, error) {
	cat := &Catalog{
		byCategory: make(map[Category][]Badge),
		byID:       make(map[uint32]Badge),
	}
	for _, def := range defs {
		if !def.Category.Valid() {
			return nil, fmt.Errorf("%w: badge %d category %d", ErrInvalidBadge, def.ID, def.Category)
		}
		if def.Requirement == nil || def.Requirement.Sign() <= 0 {
			return nil, fmt.Errorf("%w: badge %d requires positive threshold", ErrInvalidBadge, def.ID)
		}
		if _, exists := cat.byID[def.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate badge id %d", ErrInvalidBadge, def.ID)
		}
		clone := def.Clone()
		cat.byID[def.ID] = clone
		cat.byCategory[def.Category] = append(cat.byCategory[def.Category], clone)
	}
	for category := range cat.byCategory {
		entries := cat.byCategory[category]
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Requirement.Cmp(entries[j].Requirement) < 0
		})
	}
	return cat, nil
}

// ByCategory returns the active badges for the category ordered by ascending
// requirement.
func (c *Catalog) ByCategory(category Category) []Badge {
	entries := c.byCategory[category]
	out := make([]Badge, 0, len(entries))
	for _, entry := range entries {
		if entry.Active {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// ByID returns the badge definition for the identifier.
func (c *Catalog) ByID(id uint32) (Badge, bool) {
	badge, ok := c.byID[id]
	if !ok {
		return Badge{}, false
	}
	return badge.Clone(), true
}

// DefaultCatalog returns the stock badge set shipped with the ledger.
func DefaultCatalog() *Catalog {
	defs := []Badge{
		{ID: 1, Name: "First Trade", Category: CategorySwapCount, Requirement: big.NewInt(1), Points: 10, Active: true},
		{ID: 2, Name: "Frequent Trader", Category: CategorySwapCount, Requirement: big.NewInt(50), Points: 50, Active: true},
		{ID: 3, Name: "Swap Veteran", Category: CategorySwapCount, Requirement: big.NewInt(500), Points: 200, Active: true},
		{ID: 10, Name: "Volume Mover", Category: CategoryVolume, Requirement: big.NewInt(10_000), Points: 50, Active: true},
		{ID: 11, Name: "Market Maker", Category: CategoryVolume, Requirement: big.NewInt(1_000_000), Points: 250, Active: true},
		{ID: 12, Name: "Whale", Category: CategoryVolume, Requirement: big.NewInt(10_000_000), Points: 1_000, Active: true},
		{ID: 20, Name: "Week Streak", Category: CategoryStreak, Requirement: big.NewInt(7), Points: 70, Active: true},
		{ID: 21, Name: "Month Streak", Category: CategoryStreak, Requirement: big.NewInt(30), Points: 300, Active: true},
		{ID: 30, Name: "Pool Pioneer", Category: CategoryPoolCreation, Requirement: big.NewInt(1), Points: 25, Active: true},
		{ID: 31, Name: "Liquidity Patron", Category: CategoryPoolCreation, Requirement: big.NewInt(10), Points: 150, Active: true},
		{ID: 40, Name: "Bargain Hunter", Category: CategoryDiscountUsage, Requirement: big.NewInt(10), Points: 40, Active: true},
		{ID: 41, Name: "Discount Devotee", Category: CategoryDiscountUsage, Requirement: big.NewInt(100), Points: 250, Active: true},
	}
	catalog, err := NewCatalog(defs)
	if err != nil {
		panic(err)
	}
	return catalog
}
