package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidAmount     = errors.New("bank: invalid amount")
	ErrInvalidAsset      = errors.New("bank: invalid asset")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is the in-ledger balance book backing the settlement and farming
// engines' asset transfers. Balances live in the keyed state, so transfers
// issued inside an engine's journal frame stage and revert with the rest of
// the operation.
type Ledger struct {
	st ledgerState
}

// NewLedger wraps the provided state manager.
func NewLedger(st ledgerState) *Ledger {
	return &Ledger{st: st}
}

func balanceKey(asset string, owner [20]byte) []byte {
	key := append([]byte("bank/balance/"), asset...)
	return append(key, owner[:]...)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Mint credits newly issued units of the asset to the owner. Module accounts
// are funded this way at genesis and by the host's administrative surface.
func (l *Ledger) Mint(asset string, to [20]byte, amount *big.Int) error {
	asset = normalizeAsset(asset)
	if asset == "" {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.balance(asset, to)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return l.st.KVPut(balanceKey(asset, to), balance)
}

// Transfer moves amount of the asset between accounts.
func (l *Ledger) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	asset = normalizeAsset(asset)
	if asset == "" {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s balance %s below %s", ErrInsufficientFunds, asset, fromBalance, amount)
	}
	toBalance, err := l.balance(asset, to)
	if err != nil {
		return err
	}
	fromBalance.Sub(fromBalance, amount)
	toBalance.Add(toBalance, amount)
	if from == to {
		return nil
	}
	if err := l.st.KVPut(balanceKey(asset, from), fromBalance); err != nil {
		return err
	}
	return l.st.KVPut(balanceKey(asset, to), toBalance)
}

// TransferFrom moves amount on behalf of a module spender. Authorization is
// the host's concern; the engines only reach this call on requests the caller
// signed, so the ledger moves the funds without an allowance book.
func (l *Ledger) TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error {
	return l.Transfer(asset, from, to, amount)
}

// BalanceOf returns the owner's balance in the asset.
func (l *Ledger) BalanceOf(asset string, owner [20]byte) (*big.Int, error) {
	return l.balance(normalizeAsset(asset), owner)
}

func (l *Ledger) balance(asset string, owner [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	found, err := l.st.KVGet(balanceKey(asset, owner), balance)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return balance, nil
}
