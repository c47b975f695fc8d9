package pipeline

import (
	"image"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Decoder reads the data cells of fitted grids. It has no settings.
type Decoder struct{}

// NewDecoder returns a Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Process decodes every candidate that carries a grid, sampling img, the
// original frame. Cells brighter than the midpoint between the white and the
// black inner half read as 1.
func (d *Decoder) Process(img *image.Gray, tags []Tag) []Tag {
	for i := range tags {
		for j := range tags[i].Candidates {
			c := &tags[i].Candidates[j]
			if c.Grid == nil {
				continue
			}
			c.Decoding = decodeGrid(img, *c.Grid)
		}
	}
	return tags
}

func decodeGrid(img *image.Gray, g Grid) *Decoding {
	white := lightness(img, g, 0.1, innerRadius-0.1, 0.2, math.Pi-0.2)
	black := lightness(img, g, 0.1, innerRadius-0.1, math.Pi+0.2, 2*math.Pi-0.2)
	threshold := (white + black) / 2

	bits := make([]bool, NumBits)
	for k := range bits {
		a0 := float64(k)*cellAngle + 0.3*cellAngle
		a1 := float64(k+1)*cellAngle - 0.3*cellAngle
		bits[k] = lightness(img, g, innerRadius+0.1, ringRadius-0.1, a0, a1) > threshold
	}
	return &Decoding{Bits: bits}
}

// lightness is the mean CIE L* of the sector samples, in [0,1].
func lightness(img *image.Gray, g Grid, r0, r1, a0, a1 float64) float64 {
	var sum float64
	n := 0
	g.samplePolar(r0, r1, a0, a1, 3, 4, func(x, y float64) {
		v, ok := at(img, x, y)
		if !ok {
			return
		}
		c, _ := colorful.MakeColor(color.Gray{Y: v})
		l, _, _ := c.Lab()
		sum += l
		n++
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
