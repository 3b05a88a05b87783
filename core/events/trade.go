package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"perkledger/core/types"
)

const (
	// TypeTradeSettled is emitted once a swap settlement reaches its
	// terminal state.
	TypeTradeSettled = "trade.settled"
	// TypeSuspiciousActivity is emitted when the settlement distributor
	// clips a discount to the per-trade cap.
	TypeSuspiciousActivity = "trade.suspicious"
	// TypeAffiliateCommissionPaid is emitted when an affiliate commission
	// settles.
	TypeAffiliateCommissionPaid = "trade.affiliate.commission"
	// TypePoolDiscountDeactivated is emitted when a discount pool is shut
	// down after depletion or expiry.
	TypePoolDiscountDeactivated = "discount.pool.deactivated"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// TradeSettled carries the terminal summary of a settled swap.
type TradeSettled struct {
	TraceID         string
	Caller          [20]byte
	ProfileID       uint64
	AssetIn         string
	AssetOut        string
	AmountIn        *big.Int
	AmountOut       *big.Int
	DiscountApplied *big.Int
}

// EventType implements the Event interface.
func (TradeSettled) EventType() string { return TypeTradeSettled }

// Event converts the settlement summary to the generic event payload.
func (e TradeSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeTradeSettled,
		Attributes: map[string]string{
			"traceId":         e.TraceID,
			"caller":          hex.EncodeToString(e.Caller[:]),
			"profileId":       strconv.FormatUint(e.ProfileID, 10),
			"assetIn":         e.AssetIn,
			"assetOut":        e.AssetOut,
			"amountIn":        bigString(e.AmountIn),
			"amountOut":       bigString(e.AmountOut),
			"discountApplied": bigString(e.DiscountApplied),
		},
	}
}

// SuspiciousActivity flags a settlement whose discount exceeded the allowed
// fraction of the swap output. The operation still succeeds with the clipped
// amount.
type SuspiciousActivity struct {
	TraceID   string
	Caller    [20]byte
	Reason    string
	Requested *big.Int
	Allowed   *big.Int
}

// EventType implements the Event interface.
func (SuspiciousActivity) EventType() string { return TypeSuspiciousActivity }

// Event converts the signal to the generic event payload.
func (e SuspiciousActivity) Event() *types.Event {
	return &types.Event{
		Type: TypeSuspiciousActivity,
		Attributes: map[string]string{
			"traceId":   e.TraceID,
			"caller":    hex.EncodeToString(e.Caller[:]),
			"reason":    e.Reason,
			"requested": bigString(e.Requested),
			"allowed":   bigString(e.Allowed),
		},
	}
}

// AffiliateCommissionPaid records the commission transfer for an affiliate
// discount use.
type AffiliateCommissionPaid struct {
	AffiliateID [32]byte
	Affiliate   [20]byte
	Amount      *big.Int
	PlatformCut *big.Int
}

// EventType implements the Event interface.
func (AffiliateCommissionPaid) EventType() string { return TypeAffiliateCommissionPaid }

// Event converts the commission record to the generic event payload.
func (e AffiliateCommissionPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeAffiliateCommissionPaid,
		Attributes: map[string]string{
			"affiliateId": hex.EncodeToString(e.AffiliateID[:]),
			"affiliate":   hex.EncodeToString(e.Affiliate[:]),
			"amount":      bigString(e.Amount),
			"platformCut": bigString(e.PlatformCut),
		},
	}
}

// PoolDiscountDeactivated records a discount pool shutdown.
type PoolDiscountDeactivated struct {
	PoolID [32]byte
	Reason string
}

// EventType implements the Event interface.
func (PoolDiscountDeactivated) EventType() string { return TypePoolDiscountDeactivated }

// Event converts the deactivation to the generic event payload.
func (e PoolDiscountDeactivated) Event() *types.Event {
	return &types.Event{
		Type: TypePoolDiscountDeactivated,
		Attributes: map[string]string{
			"poolId": hex.EncodeToString(e.PoolID[:]),
			"reason": e.Reason,
		},
	}
}
