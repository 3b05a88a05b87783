package common

import "math/big"

// Transferor is the asset transfer collaborator consumed by the settlement
// and farming engines. Implementations are external to the ledger; a failed
// transfer fails the whole operation with no partial settlement persisting.
type Transferor interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset string, owner [20]byte) (*big.Int, error)
}
