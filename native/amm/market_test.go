package amm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"perkledger/core/state"
	"perkledger/native/badges"
	"perkledger/native/bank"
	"perkledger/native/common"
	"perkledger/native/discount"
	"perkledger/native/identity"
	"perkledger/native/settlement"
	"perkledger/storage"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

type marketFixture struct {
	st     *state.Manager
	ledger *bank.Ledger
	market *Market
}

func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(st)
	return &marketFixture{st: st, ledger: ledger, market: NewMarket(st, ledger, ModuleAccount)}
}

func (f *marketFixture) seedPair(t *testing.T, funder [20]byte, reserveA, reserveB int64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint("ABC", funder, big.NewInt(reserveA)))
	require.NoError(t, f.ledger.Mint("XYZ", funder, big.NewInt(reserveB)))
	require.NoError(t, f.market.CreatePair(funder, "ABC", "XYZ", big.NewInt(reserveA), big.NewInt(reserveB)))
}

func TestCreatePairValidation(t *testing.T) {
	f := newMarketFixture(t)
	funder := addr(1)

	err := f.market.CreatePair(funder, "ABC", "abc", big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrSameAsset)
	err = f.market.CreatePair(funder, "ABC", "XYZ", big.NewInt(0), big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidAmount)

	// An unfunded creator cannot seed reserves, and the failed attempt leaves
	// no pair behind.
	err = f.market.CreatePair(funder, "ABC", "XYZ", big.NewInt(100), big.NewInt(100))
	require.ErrorIs(t, err, bank.ErrInsufficientFunds)
	_, _, err = f.market.Reserves("ABC", "XYZ")
	require.ErrorIs(t, err, ErrPairNotFound)

	f.seedPair(t, funder, 100, 100)
	require.NoError(t, f.ledger.Mint("ABC", funder, big.NewInt(100)))
	require.NoError(t, f.ledger.Mint("XYZ", funder, big.NewInt(100)))
	err = f.market.CreatePair(funder, "XYZ", "ABC", big.NewInt(100), big.NewInt(100))
	require.ErrorIs(t, err, ErrPairExists)
}

func TestSwapFollowsConstantProduct(t *testing.T) {
	f := newMarketFixture(t)
	funder, trader := addr(1), addr(2)
	f.seedPair(t, funder, 500_000, 500_000)
	require.NoError(t, f.ledger.Mint("ABC", trader, big.NewInt(10_000)))

	// 30 bps fee: 9970 effective input against 500k/500k reserves.
	out, err := f.market.Swap("ABC", "XYZ", big.NewInt(10_000), nil, trader, trader)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9_775), out)

	balance, err := f.ledger.BalanceOf("XYZ", trader)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9_775), balance)

	reserveIn, reserveOut, err := f.market.Reserves("ABC", "XYZ")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(510_000), reserveIn)
	require.Equal(t, big.NewInt(490_225), reserveOut)
}

func TestSwapHonoursMinimumOutput(t *testing.T) {
	f := newMarketFixture(t)
	funder, trader := addr(1), addr(2)
	f.seedPair(t, funder, 500_000, 500_000)
	require.NoError(t, f.ledger.Mint("ABC", trader, big.NewInt(10_000)))

	_, err := f.market.Swap("ABC", "XYZ", big.NewInt(10_000), big.NewInt(9_776), trader, trader)
	require.ErrorIs(t, err, ErrSlippage)

	// The rejected swap left balances and reserves untouched.
	balance, err := f.ledger.BalanceOf("ABC", trader)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000), balance)
	reserveIn, _, err := f.market.Reserves("ABC", "XYZ")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500_000), reserveIn)
}

func TestSwapRevertsWhenInputUnfunded(t *testing.T) {
	f := newMarketFixture(t)
	funder, trader := addr(1), addr(2)
	f.seedPair(t, funder, 500_000, 500_000)

	_, err := f.market.Swap("ABC", "XYZ", big.NewInt(10_000), nil, trader, trader)
	require.ErrorIs(t, err, bank.ErrInsufficientFunds)

	reserveIn, reserveOut, err := f.market.Reserves("ABC", "XYZ")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500_000), reserveIn)
	require.Equal(t, big.NewInt(500_000), reserveOut)
}

// The distributor runs end to end over the in-ledger balance book and the
// constant-product market, the same wiring the daemon constructs.
func TestSettlementOverMarket(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(st)
	market := NewMarket(st, ledger, ModuleAccount)
	identities := identity.NewRegistry(st)
	badgeEngine := badges.NewEngine(st, badges.DefaultCatalog(), identities)
	pools := discount.NewPoolRegistry(st, identities)
	affiliates := discount.NewAffiliateRegistry(st)

	params := settlement.DefaultParams()
	params.Treasury = addr(0xA1)
	params.Escrow = addr(0xA2)
	agg, err := discount.NewAggregator(pools, affiliates, params.Aggregator)
	require.NoError(t, err)
	engine, err := settlement.NewEngine(st, identities, badgeEngine, pools, affiliates, agg, ledger, market, params)
	require.NoError(t, err)
	engine.SetGuard(common.NewCallGuard())

	funder := addr(1)
	require.NoError(t, ledger.Mint("ABC", funder, big.NewInt(500_000)))
	require.NoError(t, ledger.Mint("XYZ", funder, big.NewInt(500_000)))
	require.NoError(t, market.CreatePair(funder, "ABC", "XYZ", big.NewInt(500_000), big.NewInt(500_000)))

	caller := addr(2)
	_, err = identities.Register(caller)
	require.NoError(t, err)
	require.NoError(t, ledger.Mint("ABC", caller, big.NewInt(10_000)))

	res, err := engine.Swap(settlement.SwapRequest{
		Caller:   caller,
		AssetIn:  "ABC",
		AssetOut: "XYZ",
		AmountIn: big.NewInt(10_000),
	}, 1, 1_700_000_000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9_775), res.RawAmountOut)

	balance, err := ledger.BalanceOf("XYZ", caller)
	require.NoError(t, err)
	require.Equal(t, res.AmountOut, balance)
	balance, err = ledger.BalanceOf("ABC", caller)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), balance)

	// A rejected slippage bound rolls everything back, reserves included.
	require.NoError(t, ledger.Mint("ABC", caller, big.NewInt(10_000)))
	_, err = engine.Swap(settlement.SwapRequest{
		Caller:       caller,
		AssetIn:      "ABC",
		AssetOut:     "XYZ",
		AmountIn:     big.NewInt(10_000),
		MinAmountOut: big.NewInt(500_000),
	}, 1, 1_700_000_001)
	require.ErrorIs(t, err, settlement.ErrExchangeFailure)
	balance, err = ledger.BalanceOf("ABC", caller)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000), balance)
	reserveIn, _, err := market.Reserves("ABC", "XYZ")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(510_000), reserveIn)
}
