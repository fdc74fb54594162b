package smoke

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateSubmissions creates cfg.NumThrows pipeline submissions with unique throw ids.
// Every frame is cfg.FrameBytes of random data behind a JPEG start marker.
func generateSubmissions(ctx context.Context, cfg *Config, stats *Stats) ([]throw.Submission, error) {
	logger.Get().Info(ctx, "generating submissions", logger.Int("throws", cfg.NumThrows), logger.Int("frameBytes", cfg.FrameBytes))

	subs := make([]throw.Submission, 0, cfg.NumThrows)
	for i := 0; i < cfg.NumThrows; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, err := generateSubmission(uuid.New(), cfg.MediaPrefix, cfg.FrameBytes)
		if err != nil {
			return nil, fmt.Errorf("generate submission %d: %w", i, err)
		}
		subs = append(subs, sub)
		stats.Generated++
	}
	return subs, nil
}

func generateSubmission(id uuid.UUID, mediaPrefix string, frameBytes int) (throw.Submission, error) {
	images := make([]throw.Image, 0, len(throw.Cameras))
	frames := make(map[string][]byte, len(throw.Cameras))
	for _, c := range throw.Cameras {
		name := c.FrameName()
		lp, err := throw.NewLandingPoint(getRandomFloat()*frameWidth, getRandomFloat()*frameHeight)
		if err != nil {
			return throw.Submission{}, err
		}
		images = append(images, throw.Image{URL: throw.MediaURL(mediaPrefix, id, name), LandingPoint: lp})

		frame := make([]byte, frameBytes)
		if _, err := rand.Read(frame); err != nil {
			return throw.Submission{}, fmt.Errorf("random frame: %w", err)
		}
		if frameBytes >= 2 {
			frame[0], frame[1] = 0xff, 0xd8
		}
		frames[name] = frame
	}

	var infractions []throw.Infraction
	if getRandomFloat() < infractionChance {
		kind := throw.FootFault
		if getRandomFloat() < 0.5 {
			kind = throw.SectorFoul
		}
		infractions = append(infractions, throw.Infraction{Type: kind, Confidence: getRandomFloat()})
	}

	res, err := throw.NewResult(id, time.Now(), minDistance+getRandomFloat()*distanceRange, images, infractions)
	if err != nil {
		return throw.Submission{}, err
	}
	return throw.Submission{Result: res, Frames: frames}, nil
}
