package service

import "errors"

// Sentinel kinds returned by the service. Callers map them with errors.Is.
var (
	ErrNotStarted         = errors.New("service not started")
	ErrNotFound           = errors.New("throw not found")
	ErrInvalidLimit       = errors.New("invalid limit")
	ErrBackpressure       = errors.New("ingest queue full")
	ErrPlaceholderMissing = errors.New("placeholder image missing")
	ErrFrameMissing       = errors.New("frame missing")
)
