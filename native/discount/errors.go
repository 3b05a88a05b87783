package discount

import "errors"

var (
	ErrNilPool              = errors.New("discount: nil pool")
	ErrNilAffiliate         = errors.New("discount: nil affiliate")
	ErrInvalidPool          = errors.New("discount: invalid pool")
	ErrInvalidAffiliate     = errors.New("discount: invalid affiliate")
	ErrPoolNotFound         = errors.New("discount: pool not found")
	ErrAffiliateNotFound    = errors.New("discount: affiliate not found")
	ErrPoolExists           = errors.New("discount: pool already exists")
	ErrAffiliateExists      = errors.New("discount: affiliate already exists")
	ErrCredentialRequired   = errors.New("discount: identity credential required")
	ErrRateTooHigh          = errors.New("discount: rate exceeds denominator")
	ErrInactive             = errors.New("discount: inactive")
	ErrInvalidFunding       = errors.New("discount: funding amount must be positive")
	ErrUnauthorized         = errors.New("discount: unauthorized")
	ErrClaimExceedsReserve  = errors.New("discount: claim exceeds remaining reserve")
	ErrUsageExceedsRemaining = errors.New("discount: usage exceeds remaining balance")
)
