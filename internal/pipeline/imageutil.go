package pipeline

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
)

// ToGray converts img to an 8-bit grayscale image. Stage code indexes Pix
// relative to Rect.Min, so the origin is irrelevant.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	// Grayscale yields equal channels; R is copied.
	rgba := effect.Grayscale(img)
	out := image.NewGray(rgba.Rect)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	for y := 0; y < h; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+4*w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x := range dst {
			dst[x] = src[4*x]
		}
	}
	return out
}

// cropGray returns the part of img inside r, sharing pixels with img.
// Coordinates of the result are still absolute; index Pix relative to Rect.Min.
func cropGray(img *image.Gray, r image.Rectangle) *image.Gray {
	return img.SubImage(r.Intersect(img.Rect)).(*image.Gray)
}

// sobel returns the gradient magnitude of img scaled to intensity units, with
// a zero origin. Borders replicate the edge pixels.
func sobel(img *image.Gray) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	px := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return float64(img.Pix[y*img.Stride+x])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			out.Pix[y*out.Stride+x] = uint8(math.Min(math.Hypot(gx, gy)/4, 255))
		}
	}
	return out
}

// component is a 4-connected foreground region of a binary image.
type component struct {
	area       int
	sumX, sumY int
	minX, minY int
	maxX, maxY int
	pixels     []image.Point
}

func (c *component) centroid() (float64, float64) {
	return float64(c.sumX) / float64(c.area), float64(c.sumY) / float64(c.area)
}

// components labels the pixels of bin that are >= 128. When keepPixels is set
// the member pixels of each component are recorded.
func components(bin *image.Gray, keepPixels bool) []*component {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	seen := make([]bool, w*h)
	var out []*component
	stack := make([]int, 0, 64)

	for start := 0; start < w*h; start++ {
		if seen[start] || bin.Pix[(start/w)*bin.Stride+start%w] < 128 {
			continue
		}
		c := &component{minX: w, minY: h, maxX: -1, maxY: -1}
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			c.area++
			c.sumX += x
			c.sumY += y
			c.minX, c.maxX = min(c.minX, x), max(c.maxX, x)
			c.minY, c.maxY = min(c.minY, y), max(c.maxY, y)
			if keepPixels {
				c.pixels = append(c.pixels, image.Pt(x, y))
			}
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if !seen[ni] && bin.Pix[ny*bin.Stride+nx] >= 128 {
					seen[ni] = true
					stack = append(stack, ni)
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// integral is a summed-area table over a grayscale image.
type integral struct {
	w, h int
	sum  []float64
	sq   []float64
}

func newIntegral(img *image.Gray) *integral {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	in := &integral{w: w, h: h, sum: make([]float64, (w+1)*(h+1)), sq: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		var row, rowSq float64
		for x := 0; x < w; x++ {
			v := float64(img.Pix[y*img.Stride+x])
			row += v
			rowSq += v * v
			i := (y+1)*(w+1) + x + 1
			in.sum[i] = in.sum[i-(w+1)] + row
			in.sq[i] = in.sq[i-(w+1)] + rowSq
		}
	}
	return in
}

// stats returns mean and variance over the clipped rectangle [x0,x1)×[y0,y1).
func (in *integral) stats(x0, y0, x1, y1 int) (mean, variance float64) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, in.w), min(y1, in.h)
	n := float64((x1 - x0) * (y1 - y0))
	if n <= 0 {
		return 0, 0
	}
	at := func(t []float64, x, y int) float64 { return t[y*(in.w+1)+x] }
	s := at(in.sum, x1, y1) - at(in.sum, x0, y1) - at(in.sum, x1, y0) + at(in.sum, x0, y0)
	q := at(in.sq, x1, y1) - at(in.sq, x0, y1) - at(in.sq, x1, y0) + at(in.sq, x0, y0)
	mean = s / n
	variance = q/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// adaptiveThreshold marks pixels brighter than their block mean minus c.
// block is forced odd and at least 3.
func adaptiveThreshold(img *image.Gray, block int, c float64) *image.Gray {
	if block < 3 {
		block = 3
	}
	if block%2 == 0 {
		block++
	}
	half := block / 2
	in := newIntegral(img)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mean, _ := in.stats(x-half, y-half, x+half+1, y+half+1)
			if float64(img.Pix[y*img.Stride+x]) > mean-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
