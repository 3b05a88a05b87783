package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"perkledger/core/state"
	"perkledger/storage"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestMintAndTransfer(t *testing.T) {
	l := NewLedger(state.NewManager(storage.NewMemDB()))
	alice, bob := addr(1), addr(2)

	require.NoError(t, l.Mint("xyz", alice, big.NewInt(1_000)))

	// Asset symbols are canonicalised.
	balance, err := l.BalanceOf("XYZ", alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), balance)

	require.NoError(t, l.Transfer("XYZ", alice, bob, big.NewInt(400)))
	balance, err = l.BalanceOf("XYZ", alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(600), balance)
	balance, err = l.BalanceOf("XYZ", bob)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), balance)
}

func TestTransferRejectsOverdraft(t *testing.T) {
	l := NewLedger(state.NewManager(storage.NewMemDB()))
	alice, bob := addr(1), addr(2)

	require.NoError(t, l.Mint("XYZ", alice, big.NewInt(10)))
	err := l.Transfer("XYZ", alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.BalanceOf("XYZ", alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), balance)
}

func TestTransferValidation(t *testing.T) {
	l := NewLedger(state.NewManager(storage.NewMemDB()))
	alice, bob := addr(1), addr(2)

	require.ErrorIs(t, l.Transfer("", alice, bob, big.NewInt(1)), ErrInvalidAsset)
	require.ErrorIs(t, l.Transfer("XYZ", alice, bob, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, l.Transfer("XYZ", alice, bob, nil), ErrInvalidAmount)
	require.ErrorIs(t, l.Mint("XYZ", alice, big.NewInt(-1)), ErrInvalidAmount)
}

func TestTransfersStageInsideJournalFrames(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	l := NewLedger(st)
	alice, bob := addr(1), addr(2)
	require.NoError(t, l.Mint("XYZ", alice, big.NewInt(100)))

	snap := st.Snapshot()
	require.NoError(t, l.Transfer("XYZ", alice, bob, big.NewInt(100)))
	st.RevertToSnapshot(snap)

	balance, err := l.BalanceOf("XYZ", alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), balance)
	balance, err = l.BalanceOf("XYZ", bob)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), balance)
}
