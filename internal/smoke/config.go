// Package smoke drives a running mjolnir instance end to end: it submits
// generated pipeline results, checks idempotency and reads everything back
// through the API, the media mount and the live feed.
package smoke

import "time"

// Config holds configuration for a smoke run.
type Config struct {
	BaseURL     string        // Base URL of the service
	MediaPrefix string        // URL path the service mounts its storage at
	NumThrows   int           // Number of pipeline submissions to generate
	Workers     int           // Number of concurrent submitters
	FrameBytes  int           // Size of each generated frame
	Timeout     time.Duration // HTTP request timeout
	Settle      time.Duration // How long to wait for queued throws to publish
	Verbose     bool          // Enable verbose logging
}

// Stats holds run statistics.
type Stats struct {
	Generated     int
	Submitted     int
	Accepted      int
	Duplicate     int
	Backpressured int
	Failed        int
	Verified      int
	Streamed      int
	BytesSent     int64
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

// ackResponse mirrors the ingest acknowledgement.
type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}
