package common

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckWindowAccumulates(t *testing.T) {
	limit := big.NewInt(1000)
	usage := WindowUsage{Marker: 7}

	usage, err := CheckWindow(limit, 7, usage, big.NewInt(400))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	usage, err = CheckWindow(limit, 7, usage, big.NewInt(600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Volume.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected volume: %s", usage.Volume)
	}

	denied, err := CheckWindow(limit, 7, usage, big.NewInt(1))
	if !errors.Is(err, ErrWindowVolumeExceeded) {
		t.Fatalf("expected ErrWindowVolumeExceeded, got %v", err)
	}
	if denied.Volume.Cmp(usage.Volume) != 0 {
		t.Fatalf("usage must not change on rejection")
	}
}

func TestCheckWindowResetsOnMarkerAdvance(t *testing.T) {
	limit := big.NewInt(500)
	usage := WindowUsage{Marker: 1, Volume: big.NewInt(500)}

	next, err := CheckWindow(limit, 2, usage, big.NewInt(300))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Marker != 2 {
		t.Fatalf("marker not advanced: %d", next.Marker)
	}
	if next.Volume.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected window volume to reset to the new amount, got %s", next.Volume)
	}
}

func TestCallGuardRejectsNestedEntry(t *testing.T) {
	guard := NewCallGuard()
	if err := guard.Enter("settlement.swap"); err != nil {
		t.Fatalf("first entry failed: %v", err)
	}
	if err := guard.Enter("farming.deposit"); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	guard.Exit()
	if err := guard.Enter("farming.deposit"); err != nil {
		t.Fatalf("entry after exit failed: %v", err)
	}
}
