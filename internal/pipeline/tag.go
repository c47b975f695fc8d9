// Package pipeline implements the tag-reading stages that the tuner drives:
// preprocessing, localization, ellipse fitting, grid fitting and decoding.
// Every stage is configured through settings.Settings and is not safe for
// concurrent use; callers own one instance per goroutine.
package pipeline

import (
	"image"
	"math"
)

// NumBits is the number of data cells on a tag.
const NumBits = 12

// Ellipse is a fitted tag outline in full-image coordinates. Major and Minor
// are semi-axis lengths in pixels; Angle is the major-axis direction in radians.
type Ellipse struct {
	CX, CY       float64
	Major, Minor float64
	Angle        float64
	Vote         int
}

// Grid is a fitted tag model. Radius is the outer tag radius in pixels and
// Angle the orientation of the white inner half and of bit 0.
type Grid struct {
	CX, CY float64
	Radius float64
	Angle  float64
	Error  float64
}

// Decoding holds the bits read from a grid, bit 0 first.
type Decoding struct {
	Bits []bool
}

// ID packs the bits most significant first.
func (d Decoding) ID() int {
	id := 0
	for _, b := range d.Bits {
		id <<= 1
		if b {
			id |= 1
		}
	}
	return id
}

// Candidate is one ellipse hypothesis for a tag with its downstream results.
type Candidate struct {
	Ellipse  Ellipse
	Grid     *Grid
	Decoding *Decoding
}

// Tag is a localized region of interest.
type Tag struct {
	ID         int
	Box        image.Rectangle
	CX, CY     float64
	Candidates []Candidate
}

// Best returns the candidate with the lowest grid error, falling back to the
// highest ellipse vote when no grid has been fitted.
func (t *Tag) Best() *Candidate {
	var best *Candidate
	for i := range t.Candidates {
		c := &t.Candidates[i]
		switch {
		case best == nil:
			best = c
		case c.Grid != nil && (best.Grid == nil || c.Grid.Error < best.Grid.Error):
			best = c
		case c.Grid == nil && best.Grid == nil && c.Ellipse.Vote > best.Ellipse.Vote:
			best = c
		}
	}
	return best
}

// CloneTags deep-copies a tag list so downstream stages can mutate it freely.
func CloneTags(tags []Tag) []Tag {
	out := make([]Tag, len(tags))
	for i, t := range tags {
		out[i] = t
		if t.Candidates != nil {
			out[i].Candidates = make([]Candidate, len(t.Candidates))
			for j, c := range t.Candidates {
				out[i].Candidates[j] = c
				if c.Grid != nil {
					g := *c.Grid
					out[i].Candidates[j].Grid = &g
				}
				if c.Decoding != nil {
					d := Decoding{Bits: append([]bool(nil), c.Decoding.Bits...)}
					out[i].Candidates[j].Decoding = &d
				}
			}
		}
	}
	return out
}

// DropEmpty removes tags without any ellipse candidate.
func DropEmpty(tags []Tag) []Tag {
	out := tags[:0:0]
	for _, t := range tags {
		if len(t.Candidates) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
