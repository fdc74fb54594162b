package smoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Run executes a complete smoke run against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	logger.Get().Info(ctx, "starting mjolnir smoke run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("throws", cfg.NumThrows),
		logger.Int("workers", cfg.Workers),
		logger.String("frameSize", humanize.Bytes(uint64(cfg.FrameBytes))),
		logger.Duration("timeout", cfg.Timeout),
		logger.Bool("verbose", cfg.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Subscribe to the live feed before anything is published
	listener, err := listenStream(ctx, cfg.BaseURL)
	if err != nil {
		logger.Get().Warn(ctx, "live feed unavailable; skipping stream checks", logger.Error(err))
	} else {
		defer listener.close()
	}

	// Step 3: Generate submissions
	subs, err := generateSubmissions(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("submission generation failed: %w", err)
	}

	// Step 4: Submit concurrently
	if err := submitAll(ctx, client, cfg.Workers, subs, stats); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}

	// Step 5: A second submission of the same throw must be a duplicate
	if len(subs) > 0 {
		if err := checkDuplicate(ctx, client, subs[0]); err != nil {
			return stats, fmt.Errorf("duplicate check failed: %w", err)
		}
	}

	// Step 6: Wait for the workers, then read everything back
	ids := make([]uuid.UUID, len(subs))
	for i, s := range subs {
		ids[i] = s.Result.ThrowID
	}
	if err := waitPublished(ctx, client, ids, cfg.Settle); err != nil {
		return stats, fmt.Errorf("publish wait failed: %w", err)
	}
	if err := verifyAll(ctx, client, cfg.Workers, subs, stats); err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}
	if err := verifyDummy(ctx, client); err != nil {
		return stats, fmt.Errorf("dummy check failed: %w", err)
	}

	if listener != nil {
		stats.Streamed = listener.count(ids)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	logger.Get().Info(ctx, "smoke run completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *httpClient) error {
	status, _, err := client.get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("healthz returned status %d", status)
	}

	var hello struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	status, err = client.getJSON(ctx, "/api/hello_world", &hello)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !hello.OK || hello.Message != "Hello World!" {
		return fmt.Errorf("unexpected hello_world response (status %d)", status)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// submitAll posts every submission with at most workers in flight.
// Backpressured requests are retried with exponential backoff.
func submitAll(ctx context.Context, client *httpClient, workers int, subs []throw.Submission, stats *Stats) error {
	var accepted, duplicate, backpressured, failed, sent atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, sub := range subs {
		g.Go(func() error {
			for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
				status, ack, size, err := client.submit(gctx, sub)
				sent.Add(size)
				if err != nil {
					failed.Add(1)
					return err
				}
				switch {
				case status == http.StatusAccepted:
					accepted.Add(1)
					return nil
				case status == http.StatusOK && ack.Duplicate:
					duplicate.Add(1)
					return nil
				case status == http.StatusTooManyRequests:
					backpressured.Add(1)
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(backoffBase << attempt):
					}
				default:
					failed.Add(1)
					return fmt.Errorf("throw %s: unexpected status %d", sub.Result.ThrowID, status)
				}
			}
			failed.Add(1)
			return fmt.Errorf("throw %s: still backpressured after %d attempts", sub.Result.ThrowID, maxSubmitAttempts)
		})
	}
	err := g.Wait()

	stats.Submitted = len(subs)
	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Backpressured = int(backpressured.Load())
	stats.Failed = int(failed.Load())
	stats.BytesSent = sent.Load()
	return err
}

// checkDuplicate resubmits sub and expects a duplicate acknowledgement.
func checkDuplicate(ctx context.Context, client *httpClient, sub throw.Submission) error {
	status, ack, _, err := client.submit(ctx, sub)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !ack.Duplicate {
		return fmt.Errorf("resubmitting %s returned status %d duplicate=%t", sub.Result.ThrowID, status, ack.Duplicate)
	}
	return nil
}

// waitPublished polls until every id is readable or settle elapses.
func waitPublished(ctx context.Context, client *httpClient, ids []uuid.UUID, settle time.Duration) error {
	deadline := time.Now().Add(settle)
	pending := ids
	for {
		var still []uuid.UUID
		for _, id := range pending {
			status, _, err := client.get(ctx, "/api/throws/"+id.String())
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				still = append(still, id)
			}
		}
		if len(still) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d of %d throws not published after %s", len(still), len(ids), settle)
		}
		pending = still
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// verifyAll reads every throw back and compares it and its frames with
// what was submitted.
func verifyAll(ctx context.Context, client *httpClient, workers int, subs []throw.Submission, stats *Stats) error {
	var verified atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, sub := range subs {
		g.Go(func() error {
			if err := verifyThrow(gctx, client, sub); err != nil {
				return err
			}
			verified.Add(1)
			return nil
		})
	}
	err := g.Wait()
	stats.Verified = int(verified.Load())
	return err
}

func verifyThrow(ctx context.Context, client *httpClient, sub throw.Submission) error {
	id := sub.Result.ThrowID
	var got throw.Result
	status, err := client.getJSON(ctx, "/api/throws/"+id.String(), &got)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("throw %s: status %d", id, status)
	}
	if got.Distance != sub.Result.Distance || len(got.Images) != len(sub.Result.Images) {
		return fmt.Errorf("throw %s: stored result differs from submission", id)
	}
	for _, img := range got.Images {
		status, data, err := client.get(ctx, img.URL)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("frame %s: status %d", img.URL, status)
		}
		if !bytes.Equal(data, sub.Frames[throw.FrameName(img.URL)]) {
			return fmt.Errorf("frame %s: content differs from submission", img.URL)
		}
	}
	return nil
}

// verifyDummy publishes a dummy throw and expects it to be the latest.
func verifyDummy(ctx context.Context, client *httpClient) error {
	var dummy, latest throw.Result
	status, err := client.getJSON(ctx, "/api/dummy", &dummy)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("dummy returned status %d", status)
	}
	if _, err := client.getJSON(ctx, "/api/throws/latest", &latest); err != nil {
		return err
	}
	if latest.ThrowID != dummy.ThrowID {
		return errors.New("latest throw is not the dummy just published")
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, throwsPerSecond float64
	if stats.Submitted > 0 {
		successRate = float64(stats.Accepted+stats.Duplicate) / float64(stats.Submitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		throwsPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("backpressured", stats.Backpressured),
		logger.Int("failed", stats.Failed),
		logger.Int("verified", stats.Verified),
		logger.Int("streamed", stats.Streamed),
		logger.String("uploaded", humanize.Bytes(uint64(stats.BytesSent))),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.String("throwsPerSecond", humanize.FormatFloat("#,###.##", throwsPerSecond)))
}
