package settlement

import "errors"

var (
	ErrSameAsset       = errors.New("settlement: identical trade assets")
	ErrInvalidAmount   = errors.New("settlement: amount must be positive")
	ErrTooManyPools    = errors.New("settlement: too many candidate pools")
	ErrDuplicatePool   = errors.New("settlement: duplicate candidate pool")
	ErrAssetDenied     = errors.New("settlement: asset denylisted")
	ErrProfileRequired = errors.New("settlement: caller has no profile")
	ErrSlippage        = errors.New("settlement: output below minimum")
	ErrExchangeFailure = errors.New("settlement: exchange call failed")
	ErrTransferFailure = errors.New("settlement: asset transfer failed")
)
