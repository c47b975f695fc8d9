package groundtruth

import (
	"image"
	"math"

	"github.com/banshee-data/tagtune/internal/pipeline"
)

// Tolerances decide when a fitted ellipse or grid lies on an annotation.
type Tolerances struct {
	// CenterDistance is the largest allowed distance in pixels between a
	// fitted center and the annotated center.
	CenterDistance float64
	// AxisRatio is the largest allowed relative deviation of the fitted major
	// semi-axis from the annotated one. Zero disables the axis check.
	AxisRatio float64
}

// DefaultTolerances returns the tolerances used by NewEvaluator.
func DefaultTolerances() Tolerances {
	return Tolerances{CenterDistance: 10, AxisRatio: 0.3}
}

// DetectionResults are the confusion counts of one detection-style stage on
// one frame.
type DetectionResults struct {
	GroundTruth    int
	TruePositives  int
	FalsePositives int
}

// DecodeMatch pairs the bits decoded for a correctly fitted tag with the
// annotated bits.
type DecodeMatch struct {
	TagID    int
	Decoded  []bool
	Expected []bool
}

// DecoderResults lists every decode that can be scored.
type DecoderResults struct {
	Matches []DecodeMatch
}

// Evaluator scores the stages of one frame at a time against a ground truth
// file. Stages are evaluated in pipeline order; EvaluateLocalizer establishes
// which tag belongs to which annotation and must run first. Results
// accumulate until Reset.
type Evaluator struct {
	truth *File
	tol   Tolerances

	frame     int
	matched   map[int]int
	onGrid    map[int]int
	localizer DetectionResults
	ellipse   DetectionResults
	grid      DetectionResults
	decodes   []DecodeMatch
}

// NewEvaluator returns an evaluator for truth with default tolerances.
func NewEvaluator(truth *File) *Evaluator {
	return NewEvaluatorWithTolerances(truth, DefaultTolerances())
}

// NewEvaluatorWithTolerances returns an evaluator for truth.
func NewEvaluatorWithTolerances(truth *File, tol Tolerances) *Evaluator {
	e := &Evaluator{truth: truth, tol: tol}
	e.Reset()
	return e
}

// Truth returns the ground truth file being evaluated against.
func (e *Evaluator) Truth() *File { return e.truth }

// Reset clears all accumulated results.
func (e *Evaluator) Reset() {
	e.frame = -1
	e.matched = make(map[int]int)
	e.onGrid = make(map[int]int)
	e.localizer = DetectionResults{}
	e.ellipse = DetectionResults{}
	e.grid = DetectionResults{}
	e.decodes = nil
}

func (e *Evaluator) annotations() []Annotation {
	if e.frame < 0 || e.frame >= len(e.truth.Frames) {
		return nil
	}
	return e.truth.Frames[e.frame].Tags
}

// EvaluateLocalizer matches localizer boxes of frame to annotations. An
// annotation can only be matched by a box containing its center; among those
// the assignment minimizing total center distance wins.
func (e *Evaluator) EvaluateLocalizer(frame int, tags []pipeline.Tag) {
	e.frame = frame
	e.matched = make(map[int]int)
	annotations := e.annotations()

	if len(annotations) > 0 && len(tags) > 0 {
		cost := make([][]float64, len(annotations))
		for i, a := range annotations {
			cost[i] = make([]float64, len(tags))
			p := image.Pt(int(math.Floor(a.X)), int(math.Floor(a.Y)))
			for j, t := range tags {
				if !p.In(t.Box) {
					cost[i][j] = forbidden
					continue
				}
				cx := float64(t.Box.Min.X+t.Box.Max.X) / 2
				cy := float64(t.Box.Min.Y+t.Box.Max.Y) / 2
				cost[i][j] = math.Hypot(cx-a.X, cy-a.Y)
			}
		}
		for i, j := range assign(cost) {
			if j >= 0 {
				e.matched[tags[j].ID] = i
			}
		}
	}

	e.localizer = DetectionResults{
		GroundTruth:    len(annotations),
		TruePositives:  len(e.matched),
		FalsePositives: len(tags) - len(e.matched),
	}
}

// EvaluateEllipseFitter scores the best ellipse of every tag that has one.
func (e *Evaluator) EvaluateEllipseFitter(tags []pipeline.Tag) {
	annotations := e.annotations()
	res := DetectionResults{GroundTruth: len(annotations)}
	for i := range tags {
		best := tags[i].Best()
		if best == nil {
			continue
		}
		if a, ok := e.annotationFor(tags[i].ID, annotations); ok && e.ellipseOn(best.Ellipse, a) {
			res.TruePositives++
		} else {
			res.FalsePositives++
		}
	}
	e.ellipse = res
}

// EvaluateGridFitter scores the best grid of every tag that has one. Tags
// whose grid lies on their annotation become eligible for decoding.
func (e *Evaluator) EvaluateGridFitter(tags []pipeline.Tag) {
	annotations := e.annotations()
	e.onGrid = make(map[int]int)
	res := DetectionResults{GroundTruth: len(annotations)}
	for i := range tags {
		best := tags[i].Best()
		if best == nil || best.Grid == nil {
			continue
		}
		a, ok := e.annotationFor(tags[i].ID, annotations)
		if ok && math.Hypot(best.Grid.CX-a.X, best.Grid.CY-a.Y) <= e.tol.CenterDistance {
			res.TruePositives++
			e.onGrid[tags[i].ID] = e.matched[tags[i].ID]
		} else {
			res.FalsePositives++
		}
	}
	e.grid = res
}

// EvaluateDecoder collects the decodes of tags whose grid matched.
func (e *Evaluator) EvaluateDecoder(tags []pipeline.Tag) {
	annotations := e.annotations()
	e.decodes = nil
	for i := range tags {
		idx, ok := e.onGrid[tags[i].ID]
		if !ok {
			continue
		}
		best := tags[i].Best()
		if best == nil || best.Decoding == nil {
			continue
		}
		e.decodes = append(e.decodes, DecodeMatch{
			TagID:    tags[i].ID,
			Decoded:  append([]bool(nil), best.Decoding.Bits...),
			Expected: annotations[idx].Bits(),
		})
	}
}

// LocalizerResults returns the counts of the last EvaluateLocalizer call.
func (e *Evaluator) LocalizerResults() DetectionResults { return e.localizer }

// EllipseFitterResults returns the counts of the last EvaluateEllipseFitter call.
func (e *Evaluator) EllipseFitterResults() DetectionResults { return e.ellipse }

// GridFitterResults returns the counts of the last EvaluateGridFitter call.
func (e *Evaluator) GridFitterResults() DetectionResults { return e.grid }

// DecoderResults returns the matches of the last EvaluateDecoder call.
func (e *Evaluator) DecoderResults() DecoderResults {
	return DecoderResults{Matches: e.decodes}
}

func (e *Evaluator) annotationFor(tagID int, annotations []Annotation) (Annotation, bool) {
	idx, ok := e.matched[tagID]
	if !ok || idx >= len(annotations) {
		return Annotation{}, false
	}
	return annotations[idx], true
}

func (e *Evaluator) ellipseOn(el pipeline.Ellipse, a Annotation) bool {
	if math.Hypot(el.CX-a.X, el.CY-a.Y) > e.tol.CenterDistance {
		return false
	}
	want := math.Max(a.Major, a.Minor)
	if e.tol.AxisRatio <= 0 || want <= 0 {
		return true
	}
	return math.Abs(el.Major-want)/want <= e.tol.AxisRatio
}
