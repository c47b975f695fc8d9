package pipeline

import (
	"image"
	"math"

	"github.com/banshee-data/tagtune/internal/settings"
)

// GridFitter parameter names.
const (
	ParamErrFuncAlphaInner      = "err_func_alpha_inner"
	ParamErrFuncAlphaOuter      = "err_func_alpha_outer"
	ParamErrFuncAlphaVariance   = "err_func_alpha_variance"
	ParamErrFuncAlphaOuterEdge  = "err_func_alpha_outer_edge"
	ParamErrFuncAlphaInnerEdge  = "err_func_alpha_inner_edge"
	ParamAdaptiveBlockSize      = "adaptive_block_size"
	ParamAdaptiveC              = "adaptive_c"
	ParamGradientErrorThreshold = "gradient_error_threshold"
	ParamEpsAngle               = "eps_angle"
	ParamEpsPos                 = "eps_pos"
	ParamEpsScale               = "eps_scale"
	ParamAlpha                  = "alpha"
)

// minAngleStep bounds the angular search resolution in degrees.
const minAngleStep = 0.5

// DefaultGridFitterSettings returns the values used when a key is absent.
func DefaultGridFitterSettings() settings.Settings {
	return settings.Settings{
		ParamErrFuncAlphaInner:      0.5,
		ParamErrFuncAlphaOuter:      0.5,
		ParamErrFuncAlphaVariance:   0.8,
		ParamErrFuncAlphaOuterEdge:  0.3,
		ParamErrFuncAlphaInnerEdge:  0.3,
		ParamAdaptiveBlockSize:      23,
		ParamAdaptiveC:              3.0,
		ParamGradientErrorThreshold: 0.4,
		ParamEpsAngle:               2.0,
		ParamEpsPos:                 2,
		ParamEpsScale:               5.0,
		ParamAlpha:                  1.0,
	}
}

// GridFitter aligns the tag model to every ellipse candidate.
type GridFitter struct {
	weights       [5]float64
	blockSize     int
	c             float64
	gradThreshold float64
	epsAngle      float64
	epsPos        int
	epsScale      float64
	alpha         float64
}

// NewGridFitter returns a grid fitter loaded with default settings.
func NewGridFitter() *GridFitter {
	g := &GridFitter{}
	_ = g.LoadSettings(settings.Settings{})
	return g
}

// LoadSettings applies s on top of the defaults.
func (f *GridFitter) LoadSettings(s settings.Settings) error {
	d := DefaultGridFitterSettings()
	d.Merge(s)
	f.weights = [5]float64{
		d.Float(ParamErrFuncAlphaInner, 0.5),
		d.Float(ParamErrFuncAlphaOuter, 0.5),
		d.Float(ParamErrFuncAlphaVariance, 0.8),
		d.Float(ParamErrFuncAlphaOuterEdge, 0.3),
		d.Float(ParamErrFuncAlphaInnerEdge, 0.3),
	}
	f.blockSize = d.Int(ParamAdaptiveBlockSize, 23)
	f.c = d.Float(ParamAdaptiveC, 3)
	f.gradThreshold = d.Float(ParamGradientErrorThreshold, 0.4)
	f.epsAngle = math.Max(d.Float(ParamEpsAngle, 2), minAngleStep)
	f.epsPos = max(d.Int(ParamEpsPos, 2), 0)
	f.epsScale = math.Max(d.Float(ParamEpsScale, 5), 0)
	f.alpha = math.Max(d.Float(ParamAlpha, 1), 0)
	return nil
}

// gridImages are the per-tag views the error function samples.
type gridImages struct {
	bin *image.Gray
	mag *image.Gray
}

// Process fits a grid to every candidate of every tag using img, the original
// frame. Grids are never discarded; a poor fit carries a high Error.
func (f *GridFitter) Process(img *image.Gray, tags []Tag) []Tag {
	for i := range tags {
		t := &tags[i]
		if len(t.Candidates) == 0 {
			continue
		}
		roi := cropGray(img, t.Box)
		views := gridImages{bin: adaptiveThreshold(roi, f.blockSize, f.c), mag: sobel(roi)}
		ox, oy := float64(t.Box.Min.X), float64(t.Box.Min.Y)
		for j := range t.Candidates {
			el := t.Candidates[j].Ellipse
			init := Grid{CX: el.CX - ox, CY: el.CY - oy, Radius: (el.Major + el.Minor) / 2, Angle: el.Angle}
			g := f.fit(views, init)
			g.CX += ox
			g.CY += oy
			t.Candidates[j].Grid = &g
		}
	}
	return tags
}

func (f *GridFitter) fit(v gridImages, init Grid) Grid {
	step := f.epsAngle * math.Pi / 180
	best := init
	best.Error = math.Inf(1)
	for a := 0.0; a < 2*math.Pi; a += step {
		g := init
		g.Angle = normalizeAngle(init.Angle + a)
		if e := f.errorOf(v, g, init); e < best.Error {
			g.Error = e
			best = g
		}
	}
	best = f.refine(v, best, init, step/2, f.epsPos, f.epsScale/100)
	if best.Error > f.gradThreshold {
		best = f.refine(v, best, init, step/4, max(f.epsPos/2, 1), f.epsScale/200)
	}
	return best
}

// refine searches the neighbourhood of cur in position, scale and angle.
func (f *GridFitter) refine(v gridImages, cur, init Grid, dAngle float64, dPos int, dScale float64) Grid {
	best := cur
	scales := []float64{1}
	if dScale > 0 {
		scales = append(scales, 1-dScale, 1+dScale)
	}
	for dy := -dPos; dy <= dPos; dy++ {
		for dx := -dPos; dx <= dPos; dx++ {
			for _, s := range scales {
				for _, da := range [3]float64{0, -dAngle, dAngle} {
					g := Grid{
						CX:     cur.CX + float64(dx),
						CY:     cur.CY + float64(dy),
						Radius: cur.Radius * s,
						Angle:  normalizeAngle(cur.Angle + da),
					}
					if e := f.errorOf(v, g, init); e < best.Error {
						g.Error = e
						best = g
					}
				}
			}
		}
	}
	return best
}

// errorOf is the weighted mean of the model error terms plus a drift penalty
// keeping the grid close to its ellipse.
func (f *GridFitter) errorOf(v gridImages, g, init Grid) float64 {
	if g.Radius <= 1 {
		return math.Inf(1)
	}
	terms := [5]float64{
		innerError(v.bin, g),
		outerError(v.bin, g),
		varianceError(v.bin, g),
		1 - edgeStrengthCircle(v.mag, g, 1),
		1 - edgeStrengthDiameter(v.mag, g),
	}
	var sum, wsum float64
	for i, t := range terms {
		sum += f.weights[i] * t
		wsum += f.weights[i]
	}
	e := 0.0
	if wsum > 0 {
		e = sum / wsum
	} else {
		for _, t := range terms {
			e += t / float64(len(terms))
		}
	}
	drift := math.Hypot(g.CX-init.CX, g.CY-init.CY)/init.Radius + math.Abs(g.Radius/init.Radius-1)
	return e + f.alpha/100*drift
}

// fraction of samples in the sector that are white.
func whiteFraction(bin *image.Gray, g Grid, r0, r1, a0, a1 float64, nr, na int) float64 {
	m, n := meanOver(bin, g, r0, r1, a0, a1, nr, na)
	if n == 0 {
		return 0.5
	}
	return m / 255
}

func innerError(bin *image.Gray, g Grid) float64 {
	white := whiteFraction(bin, g, 0.05, innerRadius-0.05, 0, math.Pi, 3, 12)
	black := whiteFraction(bin, g, 0.05, innerRadius-0.05, math.Pi, 2*math.Pi, 3, 12)
	return ((1 - white) + black) / 2
}

func outerError(bin *image.Gray, g Grid) float64 {
	return whiteFraction(bin, g, ringRadius+0.05, 0.95, 0, 2*math.Pi, 2, 36)
}

// varianceError is high when data cells are not uniformly black or white.
func varianceError(bin *image.Gray, g Grid) float64 {
	var sum float64
	for k := 0; k < NumBits; k++ {
		a0 := float64(k)*cellAngle + 0.15*cellAngle
		a1 := float64(k+1)*cellAngle - 0.15*cellAngle
		p := whiteFraction(bin, g, innerRadius+0.05, ringRadius-0.05, a0, a1, 3, 3)
		sum += 4 * p * (1 - p)
	}
	return sum / NumBits
}

func edgeStrengthCircle(mag *image.Gray, g Grid, radius float64) float64 {
	m, n := meanOver(mag, g, radius-0.03, radius+0.03, 0, 2*math.Pi, 1, 36)
	if n == 0 {
		return 0
	}
	return m / 255
}

// edgeStrengthDiameter samples the gradient along the line splitting the
// white and the black inner half.
func edgeStrengthDiameter(mag *image.Gray, g Grid) float64 {
	const steps = 15
	var sum float64
	n := 0
	cos, sin := math.Cos(g.Angle), math.Sin(g.Angle)
	for i := 0; i < steps; i++ {
		t := (-0.35 + 0.7*float64(i)/(steps-1)) * g.Radius
		if v, ok := at(mag, g.CX+t*cos, g.CY+t*sin); ok {
			sum += float64(v)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) / 255
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
