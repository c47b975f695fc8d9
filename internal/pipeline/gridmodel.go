package pipeline

import (
	"image"
	"math"
)

// Tag layout relative to the outer radius r. The inner disc is split into a
// white half starting at the grid angle and a black half; the data ring holds
// NumBits equal cells with bit 0 starting at the grid angle; the border ring
// is black.
const (
	innerRadius = 0.4
	ringRadius  = 0.8
	cellAngle   = 2 * math.Pi / NumBits
)

// polar returns the image point at radius rho and angle phi around g's center.
func (g Grid) polar(rho, phi float64) (float64, float64) {
	return g.CX + rho*math.Cos(phi), g.CY + rho*math.Sin(phi)
}

// samplePolar visits nr×na points spread over the annular sector
// [r0,r1)×[a0,a1), both given relative to the grid (radii in units of
// Radius, angles relative to Angle). Samples sit at cell centers.
func (g Grid) samplePolar(r0, r1, a0, a1 float64, nr, na int, fn func(x, y float64)) {
	for i := 0; i < nr; i++ {
		rho := (r0 + (r1-r0)*(float64(i)+0.5)/float64(nr)) * g.Radius
		for j := 0; j < na; j++ {
			phi := g.Angle + a0 + (a1-a0)*(float64(j)+0.5)/float64(na)
			x, y := g.polar(rho, phi)
			fn(x, y)
		}
	}
}

// at returns the pixel nearest to (x, y), or false outside the image.
func at(img *image.Gray, x, y float64) (uint8, bool) {
	ix, iy := int(math.Floor(x)), int(math.Floor(y))
	if ix < 0 || iy < 0 || ix >= img.Rect.Dx() || iy >= img.Rect.Dy() {
		return 0, false
	}
	return img.Pix[iy*img.Stride+ix], true
}

// meanOver averages the samples of img that fall inside the image.
func meanOver(img *image.Gray, g Grid, r0, r1, a0, a1 float64, nr, na int) (float64, int) {
	var sum float64
	n := 0
	g.samplePolar(r0, r1, a0, a1, nr, na, func(x, y float64) {
		if v, ok := at(img, x, y); ok {
			sum += float64(v)
			n++
		}
	})
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
