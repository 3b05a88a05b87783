package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"perkledger/native/discount"
)

// ModuleName identifies the distributor for pause checks and re-entrancy
// guards.
const ModuleName = "settlement"

const (
	// DefaultMaxDiscountBps caps the applied discount at half the raw swap
	// output.
	DefaultMaxDiscountBps uint32 = 5_000
	// DefaultMaxPoolsPerTrade bounds the candidate pool list.
	DefaultMaxPoolsPerTrade = 10
)

var errInvalidParams = errors.New("settlement: invalid params")

// Params configures the distributor. Escrow custodies swap output and the
// discount float; Treasury receives the platform's share of affiliate
// commissions.
type Params struct {
	MaxDiscountBps     uint32
	MaxPoolsPerTrade   int
	MaxVolumePerWindow *big.Int
	DeniedAssets       []string
	Treasury           [20]byte
	Escrow             [20]byte
	Aggregator         discount.AggregatorParams
}

// DefaultParams returns the stock distributor configuration with no window
// limit and an empty denylist.
func DefaultParams() Params {
	return Params{
		MaxDiscountBps:   DefaultMaxDiscountBps,
		MaxPoolsPerTrade: DefaultMaxPoolsPerTrade,
		Aggregator:       discount.DefaultAggregatorParams(),
	}
}

// Normalize canonicalises the denylist and fills nil fields in place.
func (p *Params) Normalize() *Params {
	if p == nil {
		return nil
	}
	if p.MaxVolumePerWindow == nil {
		p.MaxVolumePerWindow = big.NewInt(0)
	}
	for i, asset := range p.DeniedAssets {
		p.DeniedAssets[i] = strings.ToUpper(strings.TrimSpace(asset))
	}
	return p
}

// Validate bounds the rates and limits.
func (p Params) Validate() error {
	if p.MaxDiscountBps > 10_000 {
		return fmt.Errorf("%w: max discount %d bps", errInvalidParams, p.MaxDiscountBps)
	}
	if p.MaxPoolsPerTrade <= 0 {
		return fmt.Errorf("%w: max pools per trade must be positive", errInvalidParams)
	}
	if p.MaxVolumePerWindow != nil && p.MaxVolumePerWindow.Sign() < 0 {
		return fmt.Errorf("%w: negative window limit", errInvalidParams)
	}
	return p.Aggregator.Validate()
}

// Denied reports whether the asset is on the denylist.
func (p Params) Denied(asset string) bool {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	for _, denied := range p.DeniedAssets {
		if denied == asset {
			return true
		}
	}
	return false
}
