package amm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"perkledger/native/common"
)

var (
	ErrInvalidAmount         = errors.New("amm: invalid amount")
	ErrSameAsset             = errors.New("amm: identical assets")
	ErrPairExists            = errors.New("amm: pair exists")
	ErrPairNotFound          = errors.New("amm: pair not found")
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
	ErrSlippage              = errors.New("amm: output below minimum")
)

// DefaultFeeBps is the swap fee retained by the reserves.
const DefaultFeeBps uint32 = 30

const bpsDenominator = 10_000

// ModuleAccount custodies the market's reserves on the balance ledger.
var ModuleAccount = moduleAccount()

func moduleAccount() [20]byte {
	var a [20]byte
	copy(a[:], crypto.Keccak256([]byte("amm/module"))[12:])
	return a
}

type marketState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int) error
}

// pair stores one constant-product market. AssetA sorts before AssetB so a
// pair is found regardless of trade direction.
type pair struct {
	AssetA   string
	AssetB   string
	ReserveA *big.Int
	ReserveB *big.Int
}

func pairKey(assetA, assetB string) []byte {
	return []byte("amm/pair/" + assetA + "/" + assetB)
}

func sortAssets(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Market is a constant-product exchange over the in-ledger balance book. The
// settlement distributor consumes it through its Exchange collaborator; a
// failed leg reverts the whole swap through the shared journal frame.
type Market struct {
	st      marketState
	assets  common.Transferor
	account [20]byte
	feeBps  uint32
}

// NewMarket wires the exchange over the supplied state and balance ledger.
// The account custodies the reserves.
func NewMarket(st marketState, assets common.Transferor, account [20]byte) *Market {
	return &Market{st: st, assets: assets, account: account, feeBps: DefaultFeeBps}
}

// SetFeeBps overrides the default swap fee.
func (m *Market) SetFeeBps(feeBps uint32) {
	if feeBps < bpsDenominator {
		m.feeBps = feeBps
	}
}

// CreatePair seeds a new market, pulling both initial reserves from the
// funder. Creation lands in full or not at all.
func (m *Market) CreatePair(funder [20]byte, assetA, assetB string, amountA, amountB *big.Int) error {
	assetA, assetB = normalizeAsset(assetA), normalizeAsset(assetB)
	if assetA == assetB {
		return ErrSameAsset
	}
	if amountA == nil || amountA.Sign() <= 0 || amountB == nil || amountB.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if assetB < assetA {
		assetA, assetB = assetB, assetA
		amountA, amountB = amountB, amountA
	}
	if _, found, err := m.pairOf(assetA, assetB); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %s/%s", ErrPairExists, assetA, assetB)
	}

	snap := m.st.Snapshot()
	err := m.createPair(funder, assetA, assetB, amountA, amountB)
	if err != nil {
		m.st.RevertToSnapshot(snap)
		return err
	}
	return m.st.Commit(snap)
}

func (m *Market) createPair(funder [20]byte, assetA, assetB string, amountA, amountB *big.Int) error {
	if err := m.assets.TransferFrom(assetA, m.account, funder, m.account, amountA); err != nil {
		return fmt.Errorf("amm: reserve transfer failed: %w", err)
	}
	if err := m.assets.TransferFrom(assetB, m.account, funder, m.account, amountB); err != nil {
		return fmt.Errorf("amm: reserve transfer failed: %w", err)
	}
	return m.st.KVPut(pairKey(assetA, assetB), &pair{
		AssetA:   assetA,
		AssetB:   assetB,
		ReserveA: new(big.Int).Set(amountA),
		ReserveB: new(big.Int).Set(amountB),
	})
}

// Reserves reports the current reserves for the asset pair in the order the
// assets were passed.
func (m *Market) Reserves(assetA, assetB string) (*big.Int, *big.Int, error) {
	in, out := normalizeAsset(assetA), normalizeAsset(assetB)
	p, found, err := m.pairOf(sortAssets(in, out))
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrPairNotFound, in, out)
	}
	if p.AssetA == in {
		return p.ReserveA, p.ReserveB, nil
	}
	return p.ReserveB, p.ReserveA, nil
}

// Swap trades amountIn of assetIn against the pair's reserves, pulling the
// input from the caller and delivering the output to the recipient. The
// quoted output follows the constant product after the fee accrues to the
// reserves.
func (m *Market) Swap(assetIn, assetOut string, amountIn, minAmountOut *big.Int, caller, recipient [20]byte) (*big.Int, error) {
	in, out := normalizeAsset(assetIn), normalizeAsset(assetOut)
	if in == out {
		return nil, ErrSameAsset
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	snap := m.st.Snapshot()
	amountOut, err := m.swap(in, out, amountIn, minAmountOut, caller, recipient)
	if err != nil {
		m.st.RevertToSnapshot(snap)
		return nil, err
	}
	if err := m.st.Commit(snap); err != nil {
		return nil, err
	}
	return amountOut, nil
}

func (m *Market) swap(in, out string, amountIn, minAmountOut *big.Int, caller, recipient [20]byte) (*big.Int, error) {
	p, found, err := m.pairOf(sortAssets(in, out))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrPairNotFound, in, out)
	}
	reserveIn, reserveOut := p.ReserveA, p.ReserveB
	if p.AssetA == out {
		reserveIn, reserveOut = p.ReserveB, p.ReserveA
	}

	inAfterFee := new(big.Int).Mul(amountIn, big.NewInt(int64(bpsDenominator-m.feeBps)))
	inAfterFee.Quo(inAfterFee, big.NewInt(bpsDenominator))
	amountOut := new(big.Int).Mul(reserveOut, inAfterFee)
	amountOut.Quo(amountOut, new(big.Int).Add(reserveIn, inAfterFee))
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrInsufficientLiquidity, in, out)
	}
	if minAmountOut != nil && amountOut.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippage, amountOut, minAmountOut)
	}

	if err := m.assets.TransferFrom(in, m.account, caller, m.account, amountIn); err != nil {
		return nil, fmt.Errorf("amm: input transfer failed: %w", err)
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)
	if err := m.st.KVPut(pairKey(p.AssetA, p.AssetB), p); err != nil {
		return nil, err
	}
	if err := m.assets.Transfer(out, m.account, recipient, amountOut); err != nil {
		return nil, fmt.Errorf("amm: output transfer failed: %w", err)
	}
	return amountOut, nil
}

func (m *Market) pairOf(assetA, assetB string) (*pair, bool, error) {
	p := new(pair)
	found, err := m.st.KVGet(pairKey(assetA, assetB), p)
	if err != nil || !found {
		return nil, false, err
	}
	if p.ReserveA == nil {
		p.ReserveA = big.NewInt(0)
	}
	if p.ReserveB == nil {
		p.ReserveB = big.NewInt(0)
	}
	return p, true, nil
}
