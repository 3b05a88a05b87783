package settlement

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"perkledger/core/events"
	"perkledger/native/badges"
	"perkledger/native/common"
	"perkledger/native/discount"
)

// Engine is the settlement distributor. A swap runs through four phases:
// quoting (validation, volume guard, discount quote), executing (activity and
// badge accounting, the external exchange call), distributing (cap clipping,
// claim recording, asset transfers) and done (terminal event). Every internal
// write stages in a state journal frame and commits only after the final
// transfer; any failure reverts the frame, so no partial settlement persists.
type Engine struct {
	st         stateJournal
	identities identityLedger
	badges     badgeEvaluator
	pools      poolLedger
	affiliates affiliateLedger
	agg        quoter
	assets     common.Transferor
	exchange   Exchange
	params     Params

	guard     *common.CallGuard
	pauses    common.PauseView
	emitter   events.Emitter
	traceFunc func() string
}

// NewEngine wires the distributor over its collaborators.
func NewEngine(
	st stateJournal,
	identities identityLedger,
	badgeEval badgeEvaluator,
	pools poolLedger,
	affiliates affiliateLedger,
	agg quoter,
	assets common.Transferor,
	exchange Exchange,
	params Params,
) (*Engine, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		st:         st,
		identities: identities,
		badges:     badgeEval,
		pools:      pools,
		affiliates: affiliates,
		agg:        agg,
		assets:     assets,
		exchange:   exchange,
		params:     params,
		emitter:    events.NoopEmitter{},
		traceFunc:  uuid.NewString,
	}, nil
}

// SetEmitter overrides the default no-op event emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetGuard installs the shared re-entrancy guard.
func (e *Engine) SetGuard(guard *common.CallGuard) { e.guard = guard }

// SetPauses installs the administrative pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetTraceFunc overrides trace id generation.
func (e *Engine) SetTraceFunc(fn func() string) {
	if fn != nil {
		e.traceFunc = fn
	}
}

// SwapRequest describes one trade submitted for settlement.
type SwapRequest struct {
	Caller       [20]byte
	AssetIn      string
	AssetOut     string
	AmountIn     *big.Int
	MinAmountOut *big.Int
	PoolIDs      []discount.PoolID
	AffiliateID  *discount.AffiliateID
}

// SwapResult is the terminal summary of a settled trade. AmountOut is the
// total delivered to the caller, raw output plus the applied discount.
type SwapResult struct {
	TraceID      string
	RawAmountOut *big.Int
	Discount     *big.Int
	AmountOut    *big.Int
	Clipped      bool
	Quote        *discount.QuoteResult
}

// Swap settles one trade. The window marker is the serialized-batch sequence
// counter supplied by the host environment; nowUnix is the ambient time fixed
// at execution start.
//
// Internal writes stage in a journal frame for the duration of the call.
// Every error exit, including an exchange revert or a failed transfer, rolls
// the frame back; the frame commits only once the payout has been delivered.
func (e *Engine) Swap(req SwapRequest, windowMarker, nowUnix uint64) (*SwapResult, error) {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := e.guard.Enter("settlement.swap"); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	snap := e.st.Snapshot()
	res, err := e.swap(req, windowMarker, nowUnix)
	if err != nil {
		e.st.RevertToSnapshot(snap)
		return nil, err
	}
	if err := e.st.Commit(snap); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) swap(req SwapRequest, windowMarker, nowUnix uint64) (*SwapResult, error) {
	traceID := e.traceFunc()

	// Quoting.
	assetIn := discount.NormalizeAsset(req.AssetIn)
	assetOut := discount.NormalizeAsset(req.AssetOut)
	if assetIn == assetOut {
		return nil, ErrSameAsset
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(req.PoolIDs) > e.params.MaxPoolsPerTrade {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPools, len(req.PoolIDs), e.params.MaxPoolsPerTrade)
	}
	if err := rejectDuplicates(req.PoolIDs); err != nil {
		return nil, err
	}
	if e.params.Denied(assetIn) {
		return nil, fmt.Errorf("%w: %s", ErrAssetDenied, assetIn)
	}
	if e.params.Denied(assetOut) {
		return nil, fmt.Errorf("%w: %s", ErrAssetDenied, assetOut)
	}

	profileID, found, err := e.identities.IDByOwner(req.Caller)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrProfileRequired
	}
	if e.params.MaxVolumePerWindow.Sign() > 0 {
		if err := e.identities.CheckAndConsumeWindow(profileID, req.AmountIn, windowMarker, e.params.MaxVolumePerWindow); err != nil {
			return nil, err
		}
	}

	profile, _, err := e.identities.ProfileByID(profileID)
	if err != nil {
		return nil, err
	}
	quote, err := e.agg.Quote(
		discount.Trade{AssetIn: assetIn, AssetOut: assetOut, AmountIn: req.AmountIn},
		req.PoolIDs, req.AffiliateID, profile, nowUnix,
	)
	if err != nil {
		return nil, err
	}

	// Executing.
	profile, _, err = e.identities.RecordActivity(profileID, req.AmountIn, nowUnix)
	if err != nil {
		return nil, err
	}
	if err := e.evaluateBadges(profileID, profile.SwapCount, profile.TotalVolume, profile.ActivityStreak, req.Caller); err != nil {
		return nil, err
	}

	rawOut, err := e.exchange.Swap(assetIn, assetOut, req.AmountIn, req.MinAmountOut, req.Caller, e.params.Escrow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailure, err)
	}
	if rawOut == nil || rawOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty output", ErrExchangeFailure)
	}
	if req.MinAmountOut != nil && rawOut.Cmp(req.MinAmountOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippage, rawOut, req.MinAmountOut)
	}

	// Distributing.
	total := quote.TotalDiscount()
	limit := new(big.Int).Mul(rawOut, new(big.Int).SetUint64(uint64(e.params.MaxDiscountBps)))
	limit.Quo(limit, big.NewInt(discount.BpsDenominator))
	clipped := false
	if total.Cmp(limit) > 0 {
		e.emit(events.SuspiciousActivity{
			TraceID:   traceID,
			Caller:    req.Caller,
			Reason:    "discount cap exceeded",
			Requested: new(big.Int).Set(total),
			Allowed:   new(big.Int).Set(limit),
		})
		clipQuote(quote, limit)
		total = quote.TotalDiscount()
		clipped = true
	}

	for _, pq := range quote.PoolQuotes {
		if pq.Amount.Sign() <= 0 {
			continue
		}
		if err := e.pools.RecordClaim(pq.PoolID, req.Caller, assetOut, pq.Amount, req.AmountIn, nowUnix); err != nil {
			return nil, err
		}
	}
	if quote.AffiliateUsed && quote.AffiliateDiscount.Sign() > 0 {
		if err := e.affiliates.RecordUsage(quote.AffiliateID, req.Caller, quote.AffiliateDiscount, req.AmountIn); err != nil {
			return nil, err
		}
		if err := e.identities.AddAffiliateEarnings(quote.AffiliateRecipient, quote.NetCommission); err != nil {
			return nil, err
		}
	}

	if quote.AffiliateUsed && quote.NetCommission.Sign() > 0 {
		if err := e.assets.Transfer(assetOut, e.params.Escrow, quote.AffiliateRecipient, quote.NetCommission); err != nil {
			return nil, fmt.Errorf("%w: commission: %v", ErrTransferFailure, err)
		}
		if quote.PlatformCut.Sign() > 0 {
			if err := e.assets.Transfer(assetOut, e.params.Escrow, e.params.Treasury, quote.PlatformCut); err != nil {
				return nil, fmt.Errorf("%w: platform cut: %v", ErrTransferFailure, err)
			}
		}
		e.emit(events.AffiliateCommissionPaid{
			AffiliateID: quote.AffiliateID,
			Affiliate:   quote.AffiliateRecipient,
			Amount:      new(big.Int).Set(quote.NetCommission),
			PlatformCut: new(big.Int).Set(quote.PlatformCut),
		})
	}

	amountOut := new(big.Int).Add(rawOut, total)
	if err := e.assets.Transfer(assetOut, e.params.Escrow, req.Caller, amountOut); err != nil {
		return nil, fmt.Errorf("%w: payout: %v", ErrTransferFailure, err)
	}

	// Done.
	e.emit(events.TradeSettled{
		TraceID:         traceID,
		Caller:          req.Caller,
		ProfileID:       profileID,
		AssetIn:         assetIn,
		AssetOut:        assetOut,
		AmountIn:        new(big.Int).Set(req.AmountIn),
		AmountOut:       new(big.Int).Set(amountOut),
		DiscountApplied: new(big.Int).Set(total),
	})
	return &SwapResult{
		TraceID:      traceID,
		RawAmountOut: rawOut,
		Discount:     total,
		AmountOut:    amountOut,
		Clipped:      clipped,
		Quote:        quote,
	}, nil
}

// CreateDiscountPool registers a discount pool through the pool ledger and
// evaluates pool-creation badges for the creator. Registration and badge
// accounting land together or not at all.
func (e *Engine) CreateDiscountPool(caller [20]byte, pool *discount.Pool) (discount.PoolID, error) {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return discount.PoolID{}, err
	}
	snap := e.st.Snapshot()
	id, err := e.createDiscountPool(caller, pool)
	if err != nil {
		e.st.RevertToSnapshot(snap)
		return discount.PoolID{}, err
	}
	if err := e.st.Commit(snap); err != nil {
		return discount.PoolID{}, err
	}
	return id, nil
}

func (e *Engine) createDiscountPool(caller [20]byte, pool *discount.Pool) (discount.PoolID, error) {
	id, err := e.pools.Create(caller, pool)
	if err != nil {
		return discount.PoolID{}, err
	}
	profileID, found, err := e.identities.IDByOwner(caller)
	if err != nil || !found {
		return id, err
	}
	count, err := e.pools.PoolCreationCount(profileID)
	if err != nil {
		return id, err
	}
	if _, err := e.badges.Evaluate(profileID, badges.CategoryPoolCreation, new(big.Int).SetUint64(count)); err != nil {
		return id, err
	}
	return id, nil
}

func (e *Engine) evaluateBadges(profileID, swapCount uint64, totalVolume *big.Int, streak uint32, caller [20]byte) error {
	if _, err := e.badges.Evaluate(profileID, badges.CategorySwapCount, new(big.Int).SetUint64(swapCount)); err != nil {
		return err
	}
	if _, err := e.badges.Evaluate(profileID, badges.CategoryVolume, totalVolume); err != nil {
		return err
	}
	if _, err := e.badges.Evaluate(profileID, badges.CategoryStreak, new(big.Int).SetUint64(uint64(streak))); err != nil {
		return err
	}
	usage, err := e.pools.DiscountUsageCount(caller)
	if err != nil {
		return err
	}
	_, err = e.badges.Evaluate(profileID, badges.CategoryDiscountUsage, new(big.Int).SetUint64(usage))
	return err
}

// clipQuote reduces the quote in place until its total fits the cap. The
// loyalty bonuses give way first, then the affiliate discount, then pool
// grants starting from the last candidate; reserve decrements later match the
// reduced amounts exactly. A reduced affiliate grant scales its commission
// proportionally.
func clipQuote(q *discount.QuoteResult, limit *big.Int) {
	overflow := new(big.Int).Sub(q.TotalDiscount(), limit)
	if overflow.Sign() <= 0 {
		return
	}
	reduce := func(v *big.Int) {
		take := new(big.Int).Set(overflow)
		if take.Cmp(v) > 0 {
			take.Set(v)
		}
		v.Sub(v, take)
		overflow.Sub(overflow, take)
	}

	reduce(q.StreakBonus)
	if overflow.Sign() > 0 {
		reduce(q.TierBonus)
	}
	if overflow.Sign() > 0 && q.AffiliateUsed {
		before := new(big.Int).Set(q.AffiliateDiscount)
		reduce(q.AffiliateDiscount)
		scaleCommission(q, before)
	}
	for i := len(q.PoolQuotes) - 1; i >= 0 && overflow.Sign() > 0; i-- {
		grant := q.PoolQuotes[i].Amount
		take := new(big.Int).Set(overflow)
		if take.Cmp(grant) > 0 {
			take.Set(grant)
		}
		grant.Sub(grant, take)
		q.PoolDiscountTotal.Sub(q.PoolDiscountTotal, take)
		overflow.Sub(overflow, take)
	}
}

func scaleCommission(q *discount.QuoteResult, before *big.Int) {
	if q.AffiliateDiscount.Sign() <= 0 {
		q.AffiliateUsed = false
		q.Commission = big.NewInt(0)
		q.PlatformCut = big.NewInt(0)
		q.NetCommission = big.NewInt(0)
		return
	}
	if before.Sign() <= 0 {
		return
	}
	scale := func(v *big.Int) {
		v.Mul(v, q.AffiliateDiscount)
		v.Quo(v, before)
	}
	scale(q.Commission)
	scale(q.PlatformCut)
	q.NetCommission = new(big.Int).Sub(q.Commission, q.PlatformCut)
}

func rejectDuplicates(ids []discount.PoolID) error {
	if len(ids) < 2 {
		return nil
	}
	seen := make(map[discount.PoolID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %x", ErrDuplicatePool, id[:8])
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (e *Engine) emit(event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
