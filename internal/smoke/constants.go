package smoke

import "time"

// Generation ranges for synthetic throws.
const (
	minDistance        = 40.0
	distanceRange      = 60.0
	frameWidth         = 1920.0
	frameHeight        = 1080.0
	infractionChance   = 0.3
	randomFloatDivisor = 1000000
)

// Submission retry behavior on backpressure.
const (
	maxSubmitAttempts = 5
	backoffBase       = 50 * time.Millisecond
)

// Polling while waiting for queued throws.
const (
	pollInterval         = 100 * time.Millisecond
	percentageMultiplier = 100
)
