package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/mjolnir/internal/smoke"
	"github.com/okian/mjolnir/pkg/logger"
)

// Default configuration constants.
const (
	defaultNumThrows   = 100
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultFrameBytes  = 64 << 10
	defaultTimeout     = 30 * time.Second
	defaultSettle      = time.Minute
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		mediaPrefix = flag.String("media", "/media", "URL path the service mounts its storage at")
		numThrows   = flag.Int("throws", defaultNumThrows, "Number of pipeline submissions to generate")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		frameBytes  = flag.Int("frame-bytes", defaultFrameBytes, "Size of each generated frame in bytes")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle      = flag.Duration("settle", defaultSettle, "How long to wait for queued throws to publish")
		logFormat   = flag.String("log-format", "text", "Log format: text or json")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*logFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &smoke.Config{
		BaseURL:     *baseURL,
		MediaPrefix: *mediaPrefix,
		NumThrows:   *numThrows,
		Workers:     *workers,
		FrameBytes:  *frameBytes,
		Timeout:     *timeout,
		Settle:      *settle,
		Verbose:     *verbose,
	}

	if _, err := smoke.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "smoke run failed", logger.Error(err))
		os.Exit(1)
	}
}
