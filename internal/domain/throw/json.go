package throw

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wire shapes. Output always uses the external (camelCase) names the
// frontend reads; input accepts those and the snake_case internal names.

type landingPointJSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type imageOut struct {
	URL          string   `json:"url"`
	LandingPoint pointOut `json:"landingPoint"`
}

type pointOut struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type imageIn struct {
	URL               *string           `json:"url"`
	LandingPoint      *landingPointJSON `json:"landingPoint"`
	LandingPointInner *landingPointJSON `json:"landing_point"`
}

type infractionJSON struct {
	Type       *string  `json:"type"`
	Confidence *float64 `json:"confidence"`
}

type infractionOut struct {
	Type       InfractionType `json:"type"`
	Confidence float64        `json:"confidence"`
}

type resultOut struct {
	ThrowID     uuid.UUID       `json:"throwId"`
	Timestamp   time.Time       `json:"timestamp"`
	Distance    float64         `json:"distance"`
	Images      []imageOut      `json:"images"`
	Infractions []infractionOut `json:"infractions"`
}

type resultIn struct {
	ThrowID      *uuid.UUID       `json:"throwId"`
	ThrowIDInner *uuid.UUID       `json:"throw_id"`
	Timestamp    *time.Time       `json:"timestamp"`
	Distance     *float64         `json:"distance"`
	Images       []imageIn        `json:"images"`
	Infractions  []infractionJSON `json:"infractions"`
}

// MarshalJSON encodes the landing point as {"x": .., "y": ..}.
func (lp LandingPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointOut{X: lp.X, Y: lp.Y})
}

// UnmarshalJSON requires both coordinates.
func (lp *LandingPoint) UnmarshalJSON(data []byte) error {
	var in landingPointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return invalid("landingPoint", "%v", err)
	}
	v, err := in.decode()
	if err != nil {
		return err
	}
	*lp = v
	return nil
}

func (in *landingPointJSON) decode() (LandingPoint, error) {
	if in == nil {
		return LandingPoint{}, invalid("landingPoint", "required")
	}
	if in.X == nil {
		return LandingPoint{}, invalid("landingPoint.x", "required")
	}
	if in.Y == nil {
		return LandingPoint{}, invalid("landingPoint.y", "required")
	}
	return NewLandingPoint(*in.X, *in.Y)
}

// MarshalJSON encodes the image with the external landingPoint name.
func (img Image) MarshalJSON() ([]byte, error) {
	return json.Marshal(img.out())
}

// UnmarshalJSON accepts landingPoint or landing_point.
func (img *Image) UnmarshalJSON(data []byte) error {
	var in imageIn
	if err := json.Unmarshal(data, &in); err != nil {
		return invalid("image", "%v", err)
	}
	v, err := in.decode()
	if err != nil {
		return err
	}
	*img = v
	return nil
}

func (img Image) out() imageOut {
	return imageOut{URL: img.URL, LandingPoint: pointOut{X: img.LandingPoint.X, Y: img.LandingPoint.Y}}
}

func (in imageIn) decode() (Image, error) {
	if in.URL == nil {
		return Image{}, invalid("image.url", "required")
	}
	lpIn := in.LandingPoint
	if lpIn == nil {
		lpIn = in.LandingPointInner
	}
	lp, err := lpIn.decode()
	if err != nil {
		return Image{}, err
	}
	return NewImage(*in.URL, lp)
}

// MarshalJSON encodes the infraction.
func (inf Infraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(infractionOut{Type: inf.Type, Confidence: inf.Confidence})
}

// UnmarshalJSON rejects unknown types and a missing confidence.
func (inf *Infraction) UnmarshalJSON(data []byte) error {
	var in infractionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return invalid("infraction", "%v", err)
	}
	v, err := in.decode()
	if err != nil {
		return err
	}
	*inf = v
	return nil
}

func (in infractionJSON) decode() (Infraction, error) {
	if in.Type == nil {
		return Infraction{}, invalid("infraction.type", "required")
	}
	if in.Confidence == nil {
		return Infraction{}, invalid("infraction.confidence", "required")
	}
	return NewInfraction(*in.Type, *in.Confidence)
}

// MarshalJSON encodes the result with external field names.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultOut{
		ThrowID:     r.ThrowID,
		Timestamp:   r.Timestamp,
		Distance:    r.Distance,
		Images:      make([]imageOut, len(r.Images)),
		Infractions: make([]infractionOut, len(r.Infractions)),
	}
	for i, img := range r.Images {
		out.Images[i] = img.out()
	}
	for i, inf := range r.Infractions {
		out.Infractions[i] = infractionOut{Type: inf.Type, Confidence: inf.Confidence}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts external and internal field names. If both are
// present the external one wins. Every field is required.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultIn
	if err := json.Unmarshal(data, &in); err != nil {
		return invalid("result", "%v", err)
	}

	id := in.ThrowID
	if id == nil {
		id = in.ThrowIDInner
	}
	switch {
	case id == nil:
		return invalid("throwId", "required")
	case in.Timestamp == nil:
		return invalid("timestamp", "required")
	case in.Distance == nil:
		return invalid("distance", "required")
	case in.Images == nil:
		return invalid("images", "required")
	case in.Infractions == nil:
		return invalid("infractions", "required")
	}

	images := make([]Image, len(in.Images))
	for i, img := range in.Images {
		v, err := img.decode()
		if err != nil {
			return err
		}
		images[i] = v
	}
	infractions := make([]Infraction, len(in.Infractions))
	for i, inf := range in.Infractions {
		v, err := inf.decode()
		if err != nil {
			return err
		}
		infractions[i] = v
	}

	v, err := NewResult(*id, *in.Timestamp, *in.Distance, images, infractions)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
