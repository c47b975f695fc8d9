package tuning

import (
	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/settings"
)

// Stage names.
const (
	StageLocalizer     = "localizer"
	StageEllipseFitter = "ellipsefitter"
	StageGridFitter    = "gridfitter"
)

// PipelineOrder lists the stages in the order they are tuned.
var PipelineOrder = []string{StageLocalizer, StageEllipseFitter, StageGridFitter}

// localizerRunner preprocesses and localizes the raw image and scores the
// boxes with F2.
type localizerRunner struct {
	pre *pipeline.Preprocessor
	loc *pipeline.Localizer
}

// NewLocalizerRunner returns the runner of the detection stage.
func NewLocalizerRunner() StageRunner {
	return &localizerRunner{pre: pipeline.NewPreprocessor(), loc: pipeline.NewLocalizer()}
}

func (r *localizerRunner) Load(b settings.Bundle) error {
	if err := r.pre.LoadSettings(b[settings.GroupPreprocessor]); err != nil {
		return err
	}
	return r.loc.LoadSettings(b[settings.GroupLocalizer])
}

func (r *localizerRunner) Produce(it Item) []pipeline.Tag {
	return r.loc.Process(r.pre.Process(it.Image))
}

func (r *localizerRunner) Run(it Item, ev Evaluator) Measurement {
	ev.EvaluateLocalizer(it.Frame, r.Produce(it))
	res := ev.LocalizerResults()
	return ScoreMeasurement(FBeta(res.TruePositives, res.FalsePositives, res.GroundTruth, BetaDetection))
}

// ellipseRunner fits ellipses into copies of the upstream localizer tags and
// scores them with F0.5.
type ellipseRunner struct {
	fitter *pipeline.EllipseFitter
}

// NewEllipseFitterRunner returns the runner of the shape-fit stage.
func NewEllipseFitterRunner() StageRunner {
	return &ellipseRunner{fitter: pipeline.NewEllipseFitter()}
}

func (r *ellipseRunner) Load(b settings.Bundle) error {
	return r.fitter.LoadSettings(b[settings.GroupEllipseFitter])
}

func (r *ellipseRunner) Produce(it Item) []pipeline.Tag {
	return r.fitter.Process(it.Image, pipeline.CloneTags(it.Tags))
}

func (r *ellipseRunner) Run(it Item, ev Evaluator) Measurement {
	tags := pipeline.CloneTags(it.Tags)
	ev.EvaluateLocalizer(it.Frame, tags)
	tags = r.fitter.Process(it.Image, tags)
	ev.EvaluateEllipseFitter(tags)
	res := ev.EllipseFitterResults()
	return ScoreMeasurement(FBeta(res.TruePositives, res.FalsePositives, res.GroundTruth, BetaShapeFit))
}

// gridRunner fits grids into copies of the upstream ellipse tags, decodes
// them and measures the decode distance.
type gridRunner struct {
	fitter  *pipeline.GridFitter
	decoder *pipeline.Decoder
}

// NewGridFitterRunner returns the runner of the grid-fit and decode stage.
func NewGridFitterRunner() StageRunner {
	return &gridRunner{fitter: pipeline.NewGridFitter(), decoder: pipeline.NewDecoder()}
}

func (r *gridRunner) Load(b settings.Bundle) error {
	return r.fitter.LoadSettings(b[settings.GroupGridFitter])
}

func (r *gridRunner) Produce(it Item) []pipeline.Tag {
	tags := r.fitter.Process(it.Image, pipeline.CloneTags(it.Tags))
	return r.decoder.Process(it.Image, tags)
}

func (r *gridRunner) Run(it Item, ev Evaluator) Measurement {
	tags := pipeline.CloneTags(it.Tags)
	ev.EvaluateLocalizer(it.Frame, tags)
	ev.EvaluateEllipseFitter(tags)
	tags = r.fitter.Process(it.Image, tags)
	ev.EvaluateGridFitter(tags)
	tags = r.decoder.Process(it.Image, tags)
	ev.EvaluateDecoder(tags)
	return DistanceMeasurement(DecodeDistance(ev.DecoderResults().Matches))
}
