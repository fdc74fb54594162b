package storage

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
	ErrTxnClosed   = errors.New("transaction already finished")
)
