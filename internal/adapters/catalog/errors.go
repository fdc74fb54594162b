package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrNotFound      = errors.New("throw not found")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrUnknownDriver = errors.New("unknown catalog driver")
	ErrClosed        = errors.New("catalog closed")
)
