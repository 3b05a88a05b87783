package common

import (
	"errors"
	"math/big"
)

// ErrWindowVolumeExceeded is returned when an additional trade would push the
// accumulated volume past the per-window limit.
var ErrWindowVolumeExceeded = errors.New("window volume exceeded")

// WindowUsage captures the volume consumed within one serialized execution
// window. The marker is a monotonically increasing sequence counter supplied
// by the execution environment, not wall-clock time, so the throttle holds
// even when many trades execute within a single atomic batch.
type WindowUsage struct {
	Marker uint64
	Volume *big.Int
}

// CheckWindow verifies whether the additional volume fits within the limit for
// the current window. When the marker has advanced the usage counter is reset
// before the new amount is applied. The returned usage reflects the updated
// counters only when the check passes; on rejection the previous usage is
// returned unchanged.
func CheckWindow(limit *big.Int, marker uint64, prev WindowUsage, amount *big.Int) (WindowUsage, error) {
	next := WindowUsage{Marker: prev.Marker, Volume: cloneOrZero(prev.Volume)}
	if prev.Marker != marker {
		next = WindowUsage{Marker: marker, Volume: big.NewInt(0)}
	}
	if amount != nil && amount.Sign() > 0 {
		next.Volume = new(big.Int).Add(next.Volume, amount)
	}
	if limit != nil && limit.Sign() > 0 && next.Volume.Cmp(limit) > 0 {
		return prev, ErrWindowVolumeExceeded
	}
	return next, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
