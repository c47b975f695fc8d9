// Package testutil provides shared test utilities and synthetic fixtures:
// rendered tags and on-disk datasets with ground truth.
package testutil

import (
	"encoding/json"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// TagSpec places one synthetic tag. Radius is the outer radius in pixels.
type TagSpec struct {
	X, Y   float64
	Radius float64
	Angle  float64
	Bits   []bool
}

// FrameSpec describes one synthetic image and the tags drawn on it.
type FrameSpec struct {
	Name          string
	Width, Height int
	Tags          []TagSpec
}

// NewCanvas returns a w×h grayscale image filled with bg.
func NewCanvas(w, h int, bg uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = bg
	}
	return img
}

// RenderTag draws a tag: an inner disc (radius 0.4r) white on the half
// starting at angle, a ring (0.4r to 0.8r) of 12 data cells with bit 0
// starting at angle, and a black border ring up to r. Angles grow with image
// y pointing down.
func RenderTag(img *image.Gray, spec TagSpec) {
	const cell = 2 * math.Pi / 12
	r := spec.Radius
	b := img.Rect
	for y := int(spec.Y - r - 1); y <= int(spec.Y+r+1); y++ {
		for x := int(spec.X - r - 1); x <= int(spec.X+r+1); x++ {
			if x < b.Min.X || y < b.Min.Y || x >= b.Max.X || y >= b.Max.Y {
				continue
			}
			dx, dy := float64(x)+0.5-spec.X, float64(y)+0.5-spec.Y
			rho := math.Hypot(dx, dy)
			if rho > r {
				continue
			}
			rel := math.Mod(math.Atan2(dy, dx)-spec.Angle, 2*math.Pi)
			if rel < 0 {
				rel += 2 * math.Pi
			}
			var v uint8
			switch {
			case rho < 0.4*r:
				if rel < math.Pi {
					v = 255
				}
			case rho < 0.8*r:
				k := int(rel / cell)
				if k >= 12 {
					k = 11
				}
				if k < len(spec.Bits) && spec.Bits[k] {
					v = 255
				}
			}
			img.Pix[(y-b.Min.Y)*img.Stride+(x-b.Min.X)] = v
		}
	}
}

// RenderFrame draws every tag of f on a mid-gray canvas.
func RenderFrame(f FrameSpec) *image.Gray {
	img := NewCanvas(f.Width, f.Height, 128)
	for _, tag := range f.Tags {
		RenderTag(img, tag)
	}
	return img
}

// Bits returns the 12 bits of id, most significant first.
func Bits(id int) []bool {
	bits := make([]bool, 12)
	for i := range bits {
		bits[i] = id&(1<<(11-i)) != 0
	}
	return bits
}

type tdatTag struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Major float64 `json:"major"`
	Minor float64 `json:"minor"`
	Angle float64 `json:"angle"`
	ID    []int   `json:"id"`
}

type tdatFrame struct {
	Tags []tdatTag `json:"tags"`
}

type tdatFile struct {
	Filenames []string    `json:"filenames"`
	Frames    []tdatFrame `json:"frames"`
}

// WriteDataset renders frames as JPEG images into dir and writes a ground
// truth file named gtName next to them. Frame names are stored as given; the
// image is written with a .jpeg extension. It returns the ground truth path.
func WriteDataset(t *testing.T, dir, gtName string, frames []FrameSpec) string {
	t.Helper()
	AssertNoError(t, os.MkdirAll(dir, 0o755))

	doc := tdatFile{}
	for _, f := range frames {
		name := strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpeg"
		AssertNoError(t, imaging.Save(RenderFrame(f), filepath.Join(dir, name), imaging.JPEGQuality(100)))

		frame := tdatFrame{Tags: []tdatTag{}}
		for _, tag := range f.Tags {
			id := make([]int, len(tag.Bits))
			for i, b := range tag.Bits {
				if b {
					id[i] = 1
				}
			}
			frame.Tags = append(frame.Tags, tdatTag{
				X: tag.X, Y: tag.Y, Major: tag.Radius, Minor: tag.Radius, Angle: tag.Angle, ID: id,
			})
		}
		doc.Filenames = append(doc.Filenames, f.Name)
		doc.Frames = append(doc.Frames, frame)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	AssertNoError(t, err)
	path := filepath.Join(dir, gtName)
	AssertNoError(t, os.WriteFile(path, data, 0o644))
	return path
}
