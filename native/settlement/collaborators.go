package settlement

import (
	"math/big"

	"perkledger/native/badges"
	"perkledger/native/discount"
	"perkledger/native/identity"
)

// Exchange is the external market-making collaborator. Swap pulls amountIn of
// assetIn from the caller, executes the trade and delivers the raw output of
// assetOut to recipient, returning the delivered amount. A revert surfaces as
// an error and fails the whole settlement.
type Exchange interface {
	Swap(assetIn, assetOut string, amountIn, minAmountOut *big.Int, caller, recipient [20]byte) (*big.Int, error)
}

// stateJournal stages the internal writes of one settlement so they land all
// at once or not at all. The state manager implements it.
type stateJournal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int) error
}

type identityLedger interface {
	IDByOwner(owner [20]byte) (uint64, bool, error)
	ProfileByID(id uint64) (*identity.Profile, bool, error)
	RecordActivity(id uint64, volume *big.Int, nowUnix uint64) (*identity.Profile, bool, error)
	CheckAndConsumeWindow(id uint64, amount *big.Int, marker uint64, limit *big.Int) error
	AddAffiliateEarnings(owner [20]byte, amount *big.Int) error
}

type badgeEvaluator interface {
	Evaluate(profileID uint64, category badges.Category, measured *big.Int) ([]badges.Badge, error)
}

type poolLedger interface {
	Create(caller [20]byte, p *discount.Pool) (discount.PoolID, error)
	PoolCreationCount(profileID uint64) (uint64, error)
	DiscountUsageCount(user [20]byte) (uint64, error)
	RecordClaim(id discount.PoolID, user [20]byte, payAsset string, discountAmt, volume *big.Int, nowUnix uint64) error
}

type affiliateLedger interface {
	RecordUsage(id discount.AffiliateID, user [20]byte, amount, volume *big.Int) error
}

type quoter interface {
	Quote(trade discount.Trade, poolIDs []discount.PoolID, affiliateID *discount.AffiliateID, profile *identity.Profile, nowUnix uint64) (*discount.QuoteResult, error)
}
