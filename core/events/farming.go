package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"perkledger/core/types"
)

const (
	// TypeFarmingDeposited is emitted on every farming deposit.
	TypeFarmingDeposited = "farming.deposited"
	// TypeFarmingWithdrawn is emitted on every farming withdrawal.
	TypeFarmingWithdrawn = "farming.withdrawn"
	// TypeFarmingHarvested is emitted when pending rewards are paid out.
	TypeFarmingHarvested = "farming.harvested"
	// TypeFarmingBoostUpdated is emitted when a position's boost multiplier
	// is refreshed from the owner's loyalty profile.
	TypeFarmingBoostUpdated = "farming.boost.updated"
	// TypeFarmingEmergencyExit is emitted when a position abandons its
	// pending rewards via the failsafe exit.
	TypeFarmingEmergencyExit = "farming.emergency.exit"
)

func farmingAttrs(pool uint32, owner [20]byte) map[string]string {
	return map[string]string{
		"pool":  strconv.FormatUint(uint64(pool), 10),
		"owner": hex.EncodeToString(owner[:]),
	}
}

// Deposited records a farming deposit after fees.
type Deposited struct {
	Pool   uint32
	Owner  [20]byte
	Amount *big.Int
	Fee    *big.Int
}

// EventType implements the Event interface.
func (Deposited) EventType() string { return TypeFarmingDeposited }

// Event converts the deposit to the generic event payload.
func (e Deposited) Event() *types.Event {
	attrs := farmingAttrs(e.Pool, e.Owner)
	attrs["amount"] = bigString(e.Amount)
	attrs["fee"] = bigString(e.Fee)
	return &types.Event{Type: TypeFarmingDeposited, Attributes: attrs}
}

// Withdrawn records a farming withdrawal.
type Withdrawn struct {
	Pool   uint32
	Owner  [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (Withdrawn) EventType() string { return TypeFarmingWithdrawn }

// Event converts the withdrawal to the generic event payload.
func (e Withdrawn) Event() *types.Event {
	attrs := farmingAttrs(e.Pool, e.Owner)
	attrs["amount"] = bigString(e.Amount)
	return &types.Event{Type: TypeFarmingWithdrawn, Attributes: attrs}
}

// Harvested records a reward payout. Paid may be lower than Pending when the
// reward reserve is underfunded; the difference stays accounted to the
// position.
type Harvested struct {
	Pool    uint32
	Owner   [20]byte
	Pending *big.Int
	Paid    *big.Int
}

// EventType implements the Event interface.
func (Harvested) EventType() string { return TypeFarmingHarvested }

// Event converts the harvest to the generic event payload.
func (e Harvested) Event() *types.Event {
	attrs := farmingAttrs(e.Pool, e.Owner)
	attrs["pending"] = bigString(e.Pending)
	attrs["paid"] = bigString(e.Paid)
	return &types.Event{Type: TypeFarmingHarvested, Attributes: attrs}
}

// BoostUpdated records a boost multiplier refresh.
type BoostUpdated struct {
	Pool     uint32
	Owner    [20]byte
	OldBoost uint32
	NewBoost uint32
}

// EventType implements the Event interface.
func (BoostUpdated) EventType() string { return TypeFarmingBoostUpdated }

// Event converts the boost update to the generic event payload.
func (e BoostUpdated) Event() *types.Event {
	attrs := farmingAttrs(e.Pool, e.Owner)
	attrs["oldBoost"] = strconv.FormatUint(uint64(e.OldBoost), 10)
	attrs["newBoost"] = strconv.FormatUint(uint64(e.NewBoost), 10)
	return &types.Event{Type: TypeFarmingBoostUpdated, Attributes: attrs}
}

// EmergencyExit records a failsafe withdrawal that forfeited pending rewards.
type EmergencyExit struct {
	Pool      uint32
	Owner     [20]byte
	Amount    *big.Int
	Forfeited *big.Int
}

// EventType implements the Event interface.
func (EmergencyExit) EventType() string { return TypeFarmingEmergencyExit }

// Event converts the exit to the generic event payload.
func (e EmergencyExit) Event() *types.Event {
	attrs := farmingAttrs(e.Pool, e.Owner)
	attrs["amount"] = bigString(e.Amount)
	attrs["forfeited"] = bigString(e.Forfeited)
	return &types.Event{Type: TypeFarmingEmergencyExit, Attributes: attrs}
}
