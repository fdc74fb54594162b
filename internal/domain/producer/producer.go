// Package producer defines where throw results come from. The dummy
// variant stands in for the vision pipeline until it exists.
package producer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
)

// Fixed values returned by the dummy producer.
const (
	DummyDistance   = 69.18
	DummyConfidence = 0.67
)

// dummyLandingPoints holds one landing point per camera, in image order.
var dummyLandingPoints = []throw.LandingPoint{
	{X: 100, Y: 200}, // far left
	{X: 300, Y: 200}, // far right
	{X: 100, Y: 500}, // near right
}

// Producer manufactures throw results. Produce must not touch storage.
type Producer interface {
	Produce(ctx context.Context) (throw.Result, error)
}

// Dummy produces synthetic results. Only the id and timestamp vary.
type Dummy struct {
	mediaPrefix string
	now         func() time.Time
	newID       func() (uuid.UUID, error)
}

// NewDummy creates a dummy producer with configuration options.
func NewDummy(opts ...Option) *Dummy {
	d := &Dummy{
		mediaPrefix: "/media",
		now:         time.Now,
		newID:       uuid.NewRandom,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Produce builds a fresh result with a new throw id.
func (d *Dummy) Produce(ctx context.Context) (throw.Result, error) {
	if err := ctx.Err(); err != nil {
		return throw.Result{}, err
	}

	id, err := d.newID()
	if err != nil {
		return throw.Result{}, err
	}

	images := make([]throw.Image, len(throw.Cameras))
	for i, cam := range throw.Cameras {
		images[i] = throw.Image{
			URL:          throw.MediaURL(d.mediaPrefix, id, cam.FrameName()),
			LandingPoint: dummyLandingPoints[i],
		}
	}

	return throw.NewResult(id, d.now(), DummyDistance, images, []throw.Infraction{
		{Type: throw.SectorFoul, Confidence: DummyConfidence},
	})
}
