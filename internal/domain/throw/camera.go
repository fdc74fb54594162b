package throw

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ResultFileName is the name of the persisted result inside a throw directory.
const ResultFileName = "result.json"

// Camera identifies a camera position. The order of Cameras is the order of
// Result.Images.
type Camera int

// Camera positions around the landing sector.
const (
	FarLeft Camera = iota
	FarRight
	NearRight
)

// Cameras lists every camera in image order.
var Cameras = []Camera{FarLeft, FarRight, NearRight}

func (c Camera) String() string {
	switch c {
	case FarLeft:
		return "far_left"
	case FarRight:
		return "far_right"
	case NearRight:
		return "near_right"
	default:
		return fmt.Sprintf("camera(%d)", int(c))
	}
}

// FrameName is the file name of this camera's frame inside a throw directory.
func (c Camera) FrameName() string {
	return fmt.Sprintf("image%d.jpg", int(c)+1)
}

// MediaURL builds the URL clients use to fetch name for throw id.
func MediaURL(prefix string, id uuid.UUID, name string) string {
	return path.Join("/", prefix, id.String(), name)
}

// FrameName extracts the file name an image URL points at.
func FrameName(url string) string {
	return path.Base(url)
}

// ParseMediaURL splits a media URL into its throw id and file name. The URL
// must be exactly <prefix>/<uuid>/<name>.
func ParseMediaURL(prefix, url string) (uuid.UUID, string, error) {
	p := path.Join("/", prefix) + "/"
	if !strings.HasPrefix(url, p) {
		return uuid.Nil, "", invalid("image.url", "must start with %s", p)
	}
	parts := strings.Split(strings.TrimPrefix(url, p), "/")
	if len(parts) != 2 || parts[1] == "" || strings.HasPrefix(parts[1], ".") {
		return uuid.Nil, "", invalid("image.url", "must be %s<throwId>/<file>", p)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", invalid("image.url", "bad throw id: %v", err)
	}
	return id, parts[1], nil
}
