package discount

import (
	"fmt"
	"math/big"

	"perkledger/native/identity"
)

// Default aggregator parameters. Tier and streak bonuses are deliberately
// small relative to pool and affiliate discounts.
const (
	DefaultTierBps         = 5
	DefaultStreakBpsPerDay = 5
	DefaultMaxStreakBps    = 100
	DefaultPlatformCutBps  = 1_000
)

// AggregatorParams bounds the loyalty bonuses applied on top of pool and
// affiliate discounts.
type AggregatorParams struct {
	TierBps         uint32
	StreakBpsPerDay uint32
	MaxStreakBps    uint32
	PlatformCutBps  uint32
}

// DefaultAggregatorParams returns the stock parameter set.
func DefaultAggregatorParams() AggregatorParams {
	return AggregatorParams{
		TierBps:         DefaultTierBps,
		StreakBpsPerDay: DefaultStreakBpsPerDay,
		MaxStreakBps:    DefaultMaxStreakBps,
		PlatformCutBps:  DefaultPlatformCutBps,
	}
}

// Validate bounds all rates at the denominator.
func (p AggregatorParams) Validate() error {
	if p.TierBps > BpsDenominator {
		return fmt.Errorf("%w: tier bps %d", ErrRateTooHigh, p.TierBps)
	}
	if p.StreakBpsPerDay > BpsDenominator {
		return fmt.Errorf("%w: streak bps %d", ErrRateTooHigh, p.StreakBpsPerDay)
	}
	if p.MaxStreakBps > BpsDenominator {
		return fmt.Errorf("%w: max streak bps %d", ErrRateTooHigh, p.MaxStreakBps)
	}
	if p.PlatformCutBps > BpsDenominator {
		return fmt.Errorf("%w: platform cut bps %d", ErrRateTooHigh, p.PlatformCutBps)
	}
	return nil
}

// Trade describes the pending swap a quote is computed for.
type Trade struct {
	AssetIn  string
	AssetOut string
	AmountIn *big.Int
}

// PoolQuote is the contribution of a single pool to a quote.
type PoolQuote struct {
	PoolID PoolID
	Amount *big.Int
}

// QuoteResult is the read-only output of the aggregator. Computing a quote
// has no side effects, so it is always safe to produce before any balance
// mutation.
type QuoteResult struct {
	PoolQuotes         []PoolQuote
	PoolDiscountTotal  *big.Int
	AffiliateDiscount  *big.Int
	TierBonus          *big.Int
	StreakBonus        *big.Int
	Commission         *big.Int
	PlatformCut        *big.Int
	NetCommission      *big.Int
	AffiliateUsed      bool
	AffiliateID        AffiliateID
	AffiliateRecipient [20]byte
	DiscountAsset      string
}

// TotalDiscount sums every discount source in the quote.
func (q *QuoteResult) TotalDiscount() *big.Int {
	total := new(big.Int).Add(q.PoolDiscountTotal, q.AffiliateDiscount)
	total.Add(total, q.TierBonus)
	return total.Add(total, q.StreakBonus)
}

type poolReader interface {
	PoolByID(id PoolID) (*Pool, bool)
	LastClaimUnix(id PoolID, user [20]byte) (uint64, error)
}

type affiliateReader interface {
	AffiliateByID(id AffiliateID) (*Affiliate, bool)
	UsageCount(id AffiliateID, user [20]byte) (uint32, error)
}

// Aggregator computes the unclipped total discount for a pending trade from
// pool discounts, an optional affiliate discount, the tier bonus and the
// streak bonus. It only reads; every mutation happens later in settlement.
type Aggregator struct {
	pools      poolReader
	affiliates affiliateReader
	params     AggregatorParams
}

// NewAggregator constructs an aggregator over the provided registries.
func NewAggregator(pools poolReader, affiliates affiliateReader, params AggregatorParams) (*Aggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{pools: pools, affiliates: affiliates, params: params}, nil
}

// Quote evaluates the discount sources in fixed order: candidate pools in
// caller-supplied order, then the affiliate discount, then the tier bonus and
// the streak bonus. Ineligible sources contribute zero and are skipped
// silently; they never fail the quote.
//
// Candidate pool ids are taken as given: the aggregator neither sorts nor
// deduplicates, so a duplicated id would double-count. Callers that require
// strict fairness must reject duplicates before quoting (the settlement
// distributor does).
func (a *Aggregator) Quote(trade Trade, poolIDs []PoolID, affiliateID *AffiliateID, profile *identity.Profile, nowUnix uint64) (*QuoteResult, error) {
	if trade.AmountIn == nil || trade.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: trade amount must be positive", ErrInvalidPool)
	}
	amountIn := new(big.Int).Set(trade.AmountIn)
	assetOut := NormalizeAsset(trade.AssetOut)
	user := [20]byte{}
	if profile != nil {
		user = profile.Owner
	}

	result := &QuoteResult{
		PoolDiscountTotal: big.NewInt(0),
		AffiliateDiscount: big.NewInt(0),
		TierBonus:         big.NewInt(0),
		StreakBonus:       big.NewInt(0),
		Commission:        big.NewInt(0),
		PlatformCut:       big.NewInt(0),
		NetCommission:     big.NewInt(0),
		DiscountAsset:     assetOut,
	}

	for _, id := range poolIDs {
		pool, found := a.pools.PoolByID(id)
		if !found || !pool.Active || pool.Expired(nowUnix) {
			continue
		}
		if pool.MinTradeSize.Sign() > 0 && amountIn.Cmp(pool.MinTradeSize) < 0 {
			continue
		}
		if !pool.MatchesPair(trade.AssetIn, trade.AssetOut) {
			continue
		}
		if pool.CooldownSeconds > 0 {
			lastClaim, err := a.pools.LastClaimUnix(id, user)
			if err != nil {
				return nil, err
			}
			if lastClaim > 0 && nowUnix < lastClaim+pool.CooldownSeconds {
				continue
			}
		}
		grant := bpsShare(amountIn, pool.DiscountBps)
		if pool.ReserveBacked {
			if reserve, ok := pool.ReserveOf(assetOut); ok && grant.Cmp(reserve) > 0 {
				grant = reserve
			}
		}
		if pool.MaxDiscountPerTrade.Sign() > 0 && grant.Cmp(pool.MaxDiscountPerTrade) > 0 {
			grant = new(big.Int).Set(pool.MaxDiscountPerTrade)
		}
		if grant.Sign() <= 0 {
			continue
		}
		result.PoolQuotes = append(result.PoolQuotes, PoolQuote{PoolID: id, Amount: grant})
		result.PoolDiscountTotal.Add(result.PoolDiscountTotal, grant)
	}

	if affiliateID != nil {
		a.quoteAffiliate(result, *affiliateID, amountIn, assetOut, user, nowUnix)
	}

	if profile != nil {
		tierBps := uint64(profile.Tier) * uint64(a.params.TierBps)
		result.TierBonus = bpsShare64(amountIn, tierBps)

		streakBps := uint64(profile.ActivityStreak) * uint64(a.params.StreakBpsPerDay)
		if streakBps > uint64(a.params.MaxStreakBps) {
			streakBps = uint64(a.params.MaxStreakBps)
		}
		result.StreakBonus = bpsShare64(amountIn, streakBps)
	}

	return result, nil
}

func (a *Aggregator) quoteAffiliate(result *QuoteResult, id AffiliateID, amountIn *big.Int, assetOut string, user [20]byte, nowUnix uint64) {
	affiliate, found := a.affiliates.AffiliateByID(id)
	if !found || !affiliate.Active || !affiliate.Verified || affiliate.Expired(nowUnix) {
		return
	}
	if affiliate.Asset != assetOut {
		return
	}
	if affiliate.MaxUsagePerUser > 0 {
		count, err := a.affiliates.UsageCount(id, user)
		if err != nil || count >= affiliate.MaxUsagePerUser {
			return
		}
	}
	grant := bpsShare(amountIn, affiliate.DiscountBps)
	if grant.Cmp(affiliate.Remaining) > 0 {
		grant = new(big.Int).Set(affiliate.Remaining)
	}
	if grant.Sign() <= 0 {
		return
	}
	commission := bpsShare(grant, affiliate.CommissionBps)
	platformCut := bpsShare(commission, a.params.PlatformCutBps)

	result.AffiliateDiscount = grant
	result.Commission = commission
	result.PlatformCut = platformCut
	result.NetCommission = new(big.Int).Sub(commission, platformCut)
	result.AffiliateUsed = true
	result.AffiliateID = id
	result.AffiliateRecipient = affiliate.Affiliate
}

func bpsShare(amount *big.Int, bps uint32) *big.Int {
	return bpsShare64(amount, uint64(bps))
}

func bpsShare64(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, big.NewInt(BpsDenominator))
}
