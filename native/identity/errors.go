package identity

import "errors"

var (
	ErrAlreadyRegistered = errors.New("identity: owner already registered")
	ErrProfileNotFound   = errors.New("identity: profile not found")
	ErrInvalidOwner      = errors.New("identity: invalid owner address")
	ErrInvalidAmount     = errors.New("identity: amount must be positive")
)
