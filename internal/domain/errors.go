package domain

import (
	"errors"
	"fmt"
)

// Error categories. Concrete failures wrap one of these so callers can
// branch with errors.Is without depending on the component that failed.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDurability      = errors.New("durability failure")
	ErrCorruption      = errors.New("corrupted data")
	ErrIO              = errors.New("i/o failure")
	ErrClosed          = errors.New("closed")
)

var (
	ErrEmptyKey = fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	ErrKeyTooLarge = fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidArgument, MaxKeySize)
	ErrNilValue = fmt.Errorf("%w: value must not be nil", ErrInvalidArgument)
	ErrNotFound = errors.New("key not found")
)
