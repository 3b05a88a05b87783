package farming

import "errors"

var (
	ErrPoolNotFound      = errors.New("farming: pool not found")
	ErrPositionNotFound  = errors.New("farming: position not found")
	ErrInvalidPool       = errors.New("farming: invalid pool")
	ErrInvalidAmount     = errors.New("farming: amount must be positive")
	ErrInsufficientStake = errors.New("farming: amount exceeds position")
	ErrWithdrawLocked    = errors.New("farming: withdrawal still locked")
	ErrUnauthorized      = errors.New("farming: unauthorized")
)
