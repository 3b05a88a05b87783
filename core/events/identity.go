package events

import (
	"encoding/hex"
	"strconv"

	"perkledger/core/types"
)

const (
	// TypeIdentityRegistered is emitted when an owner mints their loyalty
	// profile.
	TypeIdentityRegistered = "identity.registered"
	// TypeTierChanged is emitted when a profile crosses a volume threshold
	// into a higher tier.
	TypeTierChanged = "identity.tier.changed"
	// TypeBadgeUnlocked is emitted for every badge awarded by the badge
	// engine.
	TypeBadgeUnlocked = "identity.badge.unlocked"
)

// IdentityRegistered captures a newly minted loyalty profile.
type IdentityRegistered struct {
	ID    uint64
	Owner [20]byte
}

// EventType implements the Event interface.
func (IdentityRegistered) EventType() string { return TypeIdentityRegistered }

// Event converts the registration to the generic event payload.
func (e IdentityRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeIdentityRegistered,
		Attributes: map[string]string{
			"id":    strconv.FormatUint(e.ID, 10),
			"owner": hex.EncodeToString(e.Owner[:]),
		},
	}
}

// TierChanged captures a tier promotion for a profile. Tiers never decrease.
type TierChanged struct {
	ID      uint64
	OldTier uint8
	NewTier uint8
}

// EventType implements the Event interface.
func (TierChanged) EventType() string { return TypeTierChanged }

// Event converts the tier change to the generic event payload.
func (e TierChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeTierChanged,
		Attributes: map[string]string{
			"id":      strconv.FormatUint(e.ID, 10),
			"oldTier": strconv.FormatUint(uint64(e.OldTier), 10),
			"newTier": strconv.FormatUint(uint64(e.NewTier), 10),
		},
	}
}

// BadgeUnlocked captures a one-time badge award.
type BadgeUnlocked struct {
	ID      uint64
	BadgeID uint32
	Name    string
	Points  uint64
}

// EventType implements the Event interface.
func (BadgeUnlocked) EventType() string { return TypeBadgeUnlocked }

// Event converts the badge award to the generic event payload.
func (e BadgeUnlocked) Event() *types.Event {
	return &types.Event{
		Type: TypeBadgeUnlocked,
		Attributes: map[string]string{
			"id":      strconv.FormatUint(e.ID, 10),
			"badgeId": strconv.FormatUint(uint64(e.BadgeID), 10),
			"name":    e.Name,
			"points":  strconv.FormatUint(e.Points, 10),
		},
	}
}
