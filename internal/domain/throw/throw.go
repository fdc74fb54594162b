// Package throw defines the throw result published to the frontend: the
// measured distance, one landing point per camera frame and any detected
// infractions.
package throw

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// InfractionType enumerates the rule violations a throw can carry.
type InfractionType string

// Known infraction types. No other values are accepted.
const (
	FootFault  InfractionType = "foot_fault"
	SectorFoul InfractionType = "sector_foul"
)

// ParseInfractionType validates s against the known infraction types.
func ParseInfractionType(s string) (InfractionType, error) {
	t := InfractionType(s)
	if !t.Valid() {
		return "", invalid("infraction.type", "must be one of foot_fault, sector_foul; got %q", s)
	}
	return t, nil
}

// Valid reports whether t is a known infraction type.
func (t InfractionType) Valid() bool {
	switch t {
	case FootFault, SectorFoul:
		return true
	default:
		return false
	}
}

// LandingPoint is the pixel position of the landing mark in one frame.
// Coordinates are not bounded by the frame size.
type LandingPoint struct {
	X float64
	Y float64
}

// Image is one camera's view of a throw.
type Image struct {
	// URL is relative to the media mount, e.g. /media/<throwId>/image1.jpg.
	URL          string
	LandingPoint LandingPoint
}

// Infraction is a detected rule violation.
type Infraction struct {
	Type InfractionType
	// Confidence is an opaque detector score.
	Confidence float64
}

// Result is a published throw measurement.
type Result struct {
	ThrowID     uuid.UUID
	Timestamp   time.Time
	Distance    float64
	Images      []Image
	Infractions []Infraction
}

// NewLandingPoint builds a landing point from finite coordinates.
func NewLandingPoint(x, y float64) (LandingPoint, error) {
	if !finite(x) {
		return LandingPoint{}, invalid("landingPoint.x", "must be a finite number")
	}
	if !finite(y) {
		return LandingPoint{}, invalid("landingPoint.y", "must be a finite number")
	}
	return LandingPoint{X: x, Y: y}, nil
}

// NewImage builds an image entry.
func NewImage(url string, lp LandingPoint) (Image, error) {
	if url == "" {
		return Image{}, invalid("image.url", "must not be empty")
	}
	if _, err := NewLandingPoint(lp.X, lp.Y); err != nil {
		return Image{}, err
	}
	return Image{URL: url, LandingPoint: lp}, nil
}

// NewInfraction builds an infraction, rejecting unknown types.
func NewInfraction(kind string, confidence float64) (Infraction, error) {
	t, err := ParseInfractionType(kind)
	if err != nil {
		return Infraction{}, err
	}
	if !finite(confidence) {
		return Infraction{}, invalid("infraction.confidence", "must be a finite number")
	}
	return Infraction{Type: t, Confidence: confidence}, nil
}

// NewResult builds a result. The timestamp is normalized to UTC and the
// slices are copied. The number of images is not checked here; producers
// are expected to supply one per camera.
func NewResult(id uuid.UUID, ts time.Time, distance float64, images []Image, infractions []Infraction) (Result, error) {
	if id == uuid.Nil {
		return Result{}, invalid("throwId", "must not be the nil UUID")
	}
	if ts.IsZero() {
		return Result{}, invalid("timestamp", "must be set")
	}
	if !finite(distance) {
		return Result{}, invalid("distance", "must be a finite number")
	}

	imgs := make([]Image, len(images))
	for i, img := range images {
		v, err := NewImage(img.URL, img.LandingPoint)
		if err != nil {
			return Result{}, err
		}
		imgs[i] = v
	}

	infs := make([]Infraction, len(infractions))
	for i, inf := range infractions {
		v, err := NewInfraction(string(inf.Type), inf.Confidence)
		if err != nil {
			return Result{}, err
		}
		infs[i] = v
	}

	return Result{
		ThrowID:     id,
		Timestamp:   ts.UTC(),
		Distance:    distance,
		Images:      imgs,
		Infractions: infs,
	}, nil
}

// Validate re-runs constructor validation on an existing value.
func (r Result) Validate() error {
	_, err := NewResult(r.ThrowID, r.Timestamp, r.Distance, r.Images, r.Infractions)
	return err
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
