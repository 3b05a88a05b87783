package badges

import "errors"

var (
	ErrInvalidBadge    = errors.New("badges: invalid badge definition")
	ErrInvalidCategory = errors.New("badges: invalid category")
)
