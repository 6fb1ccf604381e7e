package domain

import "errors"

// Account errors
var (
	// ErrEmptyDistinguishedName is returned when a directory entry has no DN.
	ErrEmptyDistinguishedName = errors.New("distinguished name cannot be empty")

	// ErrInvalidAccountControl is returned when userAccountControl is not a
	// decimal 32-bit integer.
	ErrInvalidAccountControl = errors.New("invalid userAccountControl value")
)
