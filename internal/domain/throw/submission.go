package throw

import "time"

// Submission is a result handed in by the vision pipeline together with the
// frame images it references, keyed by frame file name.
type Submission struct {
	Result   Result
	Frames   map[string][]byte
	Received time.Time
}

// Validate checks that the submission is publishable under mediaPrefix:
// exactly one image per camera, every URL points at this throw's directory,
// names are distinct, and every referenced frame is present and non-empty.
func (s Submission) Validate(mediaPrefix string) error {
	if err := s.Result.Validate(); err != nil {
		return err
	}
	if len(s.Result.Images) != len(Cameras) {
		return invalid("images", "expected %d images, got %d", len(Cameras), len(s.Result.Images))
	}
	names := make(map[string]struct{}, len(s.Result.Images))
	for _, img := range s.Result.Images {
		id, name, err := ParseMediaURL(mediaPrefix, img.URL)
		if err != nil {
			return err
		}
		if id != s.Result.ThrowID {
			return invalid("image.url", "%s does not belong to throw %s", img.URL, s.Result.ThrowID)
		}
		if name == ResultFileName {
			return invalid("image.url", "%s is reserved", name)
		}
		if _, dup := names[name]; dup {
			return invalid("image.url", "duplicate frame %s", name)
		}
		names[name] = struct{}{}
		if len(s.Frames[name]) == 0 {
			return invalid("frames", "missing frame %s", name)
		}
	}
	for name := range s.Frames {
		if _, ok := names[name]; !ok {
			return invalid("frames", "frame %s is not referenced by any image", name)
		}
	}
	return nil
}
