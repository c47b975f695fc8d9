package pipeline

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tagtune/internal/settings"
)

// EllipseFitter parameter names.
const (
	ParamCannyInitialHigh    = "canny_initial_high"
	ParamCannyValuesDistance = "canny_values_distance"
	ParamCannyMeanMin        = "canny_mean_min"
	ParamCannyMeanMax        = "canny_mean_max"
	ParamMinMajorAxis        = "min_major_axis"
	ParamMaxMajorAxis        = "max_major_axis"
	ParamMinMinorAxis        = "min_minor_axis"
	ParamMaxMinorAxis        = "max_minor_axis"
	ParamThresholdEdgePixels = "threshold_edge_pixels"
	ParamThresholdBestVote   = "threshold_best_vote"
	ParamThresholdVote       = "threshold_vote"
)

const (
	cannyStep          = 5
	cannyMaxIterations = 10
	inlierTolerance    = 0.15
	votePerInlier      = 10
)

// DefaultEllipseFitterSettings returns the values used when a key is absent.
func DefaultEllipseFitterSettings() settings.Settings {
	return settings.Settings{
		ParamCannyInitialHigh:    70,
		ParamCannyValuesDistance: 30,
		ParamCannyMeanMin:        8,
		ParamCannyMeanMax:        15,
		ParamMinMajorAxis:        30,
		ParamMaxMajorAxis:        55,
		ParamMinMinorAxis:        30,
		ParamMaxMinorAxis:        55,
		ParamThresholdEdgePixels: 25,
		ParamThresholdBestVote:   3000,
		ParamThresholdVote:       1000,
	}
}

// EllipseFitter finds the tag outline inside each region of interest.
type EllipseFitter struct {
	cannyHigh     int
	cannyDistance int
	cannyMeanMin  float64
	cannyMeanMax  float64
	minMajor      float64
	maxMajor      float64
	minMinor      float64
	maxMinor      float64
	edgePixels    int
	bestVote      int
	vote          int
}

// NewEllipseFitter returns an ellipse fitter loaded with default settings.
func NewEllipseFitter() *EllipseFitter {
	e := &EllipseFitter{}
	_ = e.LoadSettings(settings.Settings{})
	return e
}

// LoadSettings applies s on top of the defaults.
func (e *EllipseFitter) LoadSettings(s settings.Settings) error {
	d := DefaultEllipseFitterSettings()
	d.Merge(s)
	e.cannyHigh = d.Int(ParamCannyInitialHigh, 70)
	e.cannyDistance = d.Int(ParamCannyValuesDistance, 30)
	e.cannyMeanMin = d.Float(ParamCannyMeanMin, 8)
	e.cannyMeanMax = d.Float(ParamCannyMeanMax, 15)
	e.minMajor = d.Float(ParamMinMajorAxis, 30)
	e.maxMajor = d.Float(ParamMaxMajorAxis, 55)
	e.minMinor = d.Float(ParamMinMinorAxis, 30)
	e.maxMinor = d.Float(ParamMaxMinorAxis, 55)
	e.edgePixels = d.Int(ParamThresholdEdgePixels, 25)
	e.bestVote = d.Int(ParamThresholdBestVote, 3000)
	e.vote = d.Int(ParamThresholdVote, 1000)
	return nil
}

// Process fits ellipse candidates for every tag in tags using img, the
// original frame. Existing candidates are replaced. Tags whose region yields
// no candidate are kept with an empty candidate list.
func (e *EllipseFitter) Process(img *image.Gray, tags []Tag) []Tag {
	for i := range tags {
		tags[i].Candidates = e.fitTag(img, tags[i].Box)
	}
	return tags
}

func (e *EllipseFitter) fitTag(img *image.Gray, box image.Rectangle) []Candidate {
	roi := cropGray(img, box)
	edges := e.adaptiveEdges(sobel(roi))
	if len(edges) < e.edgePixels || len(edges) == 0 {
		return nil
	}

	hypotheses := []Ellipse{}
	if el, ok := fitMoments(edges); ok {
		hypotheses = append(hypotheses, el)
	}
	for _, c := range e.edgeGroups(edges, roi.Rect.Dx(), roi.Rect.Dy()) {
		if el, ok := fitMoments(c); ok {
			hypotheses = append(hypotheses, el)
		}
	}

	var out []Candidate
	for _, el := range hypotheses {
		el.Vote = votePerInlier * countInliers(el, edges)
		if el.Vote < e.vote {
			continue
		}
		if el.Major < e.minMajor || el.Major > e.maxMajor || el.Minor < e.minMinor || el.Minor > e.maxMinor {
			continue
		}
		el.CX += float64(box.Min.X)
		el.CY += float64(box.Min.Y)
		out = append(out, Candidate{Ellipse: el})
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ellipse.Vote > out[j].Ellipse.Vote })
	if out[0].Ellipse.Vote >= e.bestVote {
		out = out[:1]
	}
	return out
}

// adaptiveEdges runs hysteresis edge detection on the gradient magnitude,
// moving the high threshold until the edge mean (255 × edge fraction) falls
// inside [cannyMeanMin, cannyMeanMax].
func (e *EllipseFitter) adaptiveEdges(mag *image.Gray) []image.Point {
	high := e.cannyHigh
	n := float64(mag.Rect.Dx() * mag.Rect.Dy())
	var edges []image.Point
	for i := 0; i < cannyMaxIterations; i++ {
		edges = hysteresis(mag, high, high-e.cannyDistance)
		if n == 0 {
			return nil
		}
		mean := 255 * float64(len(edges)) / n
		switch {
		case mean < e.cannyMeanMin && high > cannyStep:
			high -= cannyStep
		case mean > e.cannyMeanMax && high < 255:
			high += cannyStep
		default:
			return edges
		}
	}
	return edges
}

// hysteresis keeps pixels >= high and the pixels >= low 8-connected to them.
func hysteresis(mag *image.Gray, high, low int) []image.Point {
	w, h := mag.Rect.Dx(), mag.Rect.Dy()
	low = max(low, 1)
	magAt := func(x, y int) int { return int(mag.Pix[y*mag.Stride+x]) }

	seen := make([]bool, w*h)
	var out, stack []image.Point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if seen[y*w+x] || magAt(x, y) < high {
				continue
			}
			seen[y*w+x] = true
			stack = append(stack[:0], image.Pt(x, y))
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				out = append(out, p)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h || seen[ny*w+nx] {
							continue
						}
						if magAt(nx, ny) >= low {
							seen[ny*w+nx] = true
							stack = append(stack, image.Pt(nx, ny))
						}
					}
				}
			}
		}
	}
	return out
}

// edgeGroups splits the edge map into connected groups large enough to carry
// an ellipse on their own.
func (e *EllipseFitter) edgeGroups(edges []image.Point, w, h int) [][]image.Point {
	bin := image.NewGray(image.Rect(0, 0, w, h))
	for _, p := range edges {
		bin.Pix[p.Y*bin.Stride+p.X] = 255
	}
	comps := components(bin, true)
	if len(comps) < 2 {
		return nil
	}
	var out [][]image.Point
	for _, c := range comps {
		if c.area >= max(e.edgePixels, 5) {
			out = append(out, c.pixels)
		}
	}
	return out
}

// fitMoments estimates an ellipse from the second moments of points spread
// along its outline. For such points each covariance eigenvalue is half the
// squared semi-axis.
func fitMoments(pts []image.Point) (Ellipse, bool) {
	if len(pts) < 5 {
		return Ellipse{}, false
	}
	var mx, my float64
	for _, p := range pts {
		mx += float64(p.X)
		my += float64(p.Y)
	}
	n := float64(len(pts))
	mx /= n
	my /= n

	var sxx, sxy, syy float64
	for _, p := range pts {
		dx, dy := float64(p.X)-mx, float64(p.Y)-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	cov := mat.NewSymDense(2, []float64{sxx / n, sxy / n, sxy / n, syy / n})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return Ellipse{}, false
	}
	vals := eig.Values(nil)
	if vals[0] < 1e-9 {
		return Ellipse{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues are ascending; column 1 is the major direction.
	return Ellipse{
		CX:    mx,
		CY:    my,
		Major: math.Sqrt(2 * vals[1]),
		Minor: math.Sqrt(2 * vals[0]),
		Angle: math.Atan2(vecs.At(1, 1), vecs.At(0, 1)),
	}, true
}

// normalizedRadius is 1 on the outline of el, below 1 inside.
func normalizedRadius(el Ellipse, x, y float64) float64 {
	dx, dy := x-el.CX, y-el.CY
	cos, sin := math.Cos(el.Angle), math.Sin(el.Angle)
	u := dx*cos + dy*sin
	v := -dx*sin + dy*cos
	return math.Hypot(u/el.Major, v/el.Minor)
}

func countInliers(el Ellipse, pts []image.Point) int {
	n := 0
	for _, p := range pts {
		if math.Abs(normalizedRadius(el, float64(p.X), float64(p.Y))-1) < inlierTolerance {
			n++
		}
	}
	return n
}
