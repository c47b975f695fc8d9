package tuning

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtune/internal/groundtruth"
	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/testutil"
)

// renderedItem returns a frame holding one tag at (100,100) and its ground
// truth evaluator.
func renderedItem(t *testing.T) (Item, *groundtruth.Evaluator) {
	t.Helper()
	spec := testutil.TagSpec{X: 100, Y: 100, Radius: 30, Angle: 0.5, Bits: testutil.Bits(0x9C3)}
	img := testutil.RenderFrame(testutil.FrameSpec{Name: "f.jpeg", Width: 200, Height: 200, Tags: []testutil.TagSpec{spec}})

	ids := make([]int, len(spec.Bits))
	for i, b := range spec.Bits {
		if b {
			ids[i] = 1
		}
	}
	truth := &groundtruth.File{
		Filenames: []string{"f.jpeg"},
		Frames: []groundtruth.Frame{{Tags: []groundtruth.Annotation{
			{X: spec.X, Y: spec.Y, Major: spec.Radius, Minor: spec.Radius, Angle: spec.Angle, ID: ids},
		}}},
	}
	return Item{Path: "f.jpeg", Frame: 0, Image: img}, groundtruth.NewEvaluator(truth)
}

func TestLocalizerRunnerScoresDetection(t *testing.T) {
	it, ev := renderedItem(t)
	r := NewLocalizerRunner()
	require.NoError(t, r.Load(settings.Bundle{}))

	m := r.Run(it, ev)
	assert.Equal(t, MetricScore, m.Metric)
	assert.GreaterOrEqual(t, m.Score.FScore, 0.0)
	assert.LessOrEqual(t, m.Score.FScore, 1.0)

	res := ev.LocalizerResults()
	assert.Equal(t, 1, res.GroundTruth)
	assert.Equal(t, res.TruePositives+res.FalsePositives, len(r.Produce(it)))
}

func TestEllipseRunnerLeavesUpstreamTagsUntouched(t *testing.T) {
	it, ev := renderedItem(t)
	it.Tags = []pipeline.Tag{{ID: 0, Box: image.Rect(50, 50, 150, 150), CX: 100, CY: 100}}

	r := NewEllipseFitterRunner()
	require.NoError(t, r.Load(settings.Bundle{settings.GroupEllipseFitter: {
		pipeline.ParamCannyMeanMin:  1,
		pipeline.ParamCannyMeanMax:  100,
		pipeline.ParamThresholdVote: 100,
	}}))

	m := r.Run(it, ev)
	assert.Equal(t, MetricScore, m.Metric)
	assert.LessOrEqual(t, m.Score.FScore, 1.0)
	assert.Nil(t, it.Tags[0].Candidates)
	assert.Equal(t, 1, ev.EllipseFitterResults().GroundTruth)
}

func TestGridRunnerWithoutCandidatesHasNoDecodes(t *testing.T) {
	it, ev := renderedItem(t)
	it.Tags = []pipeline.Tag{{ID: 0, Box: image.Rect(50, 50, 150, 150), CX: 100, CY: 100}}

	r := NewGridFitterRunner()
	require.NoError(t, r.Load(settings.Bundle{}))
	m := r.Run(it, ev)
	assert.Equal(t, MetricDistance, m.Metric)
	assert.Equal(t, 1.0, m.Distance)
}

func TestGridRunnerDecodesFittedEllipse(t *testing.T) {
	it, ev := renderedItem(t)
	it.Tags = []pipeline.Tag{{
		ID:  0,
		Box: image.Rect(50, 50, 150, 150),
		CX:  100, CY: 100,
		Candidates: []pipeline.Candidate{{Ellipse: pipeline.Ellipse{CX: 100, CY: 100, Major: 30, Minor: 30, Angle: 0.5, Vote: 5000}}},
	}}

	r := NewGridFitterRunner()
	require.NoError(t, r.Load(settings.Bundle{}))
	m := r.Run(it, ev)
	assert.Equal(t, MetricDistance, m.Metric)
	assert.GreaterOrEqual(t, m.Distance, 0.0)
	assert.LessOrEqual(t, m.Distance, 1.0)
	assert.Nil(t, it.Tags[0].Candidates[0].Grid)

	out := r.Produce(it)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Candidates[0].Grid)
	assert.NotNil(t, out[0].Candidates[0].Decoding)
}

func TestStageObjectiveFromRegistry(t *testing.T) {
	it, ev := renderedItem(t)
	c, err := NewCorpus(&Partition{Name: "gt", Evaluator: ev, Items: []Item{it}})
	require.NoError(t, err)

	def, ok := DefaultStageRegistry().Get(StageLocalizer)
	require.True(t, ok)
	o, err := NewStageObjective(def, SpaceOptions{}, nil, c, 1, AggregateItems, nil)
	require.NoError(t, err)
	assert.Equal(t, 15, o.Dimensions())

	q := make([]float64, o.Dimensions())
	for i := range q {
		q[i] = 0.5
	}
	b, err := o.Materialize(q)
	require.NoError(t, err)
	assert.Equal(t, true, b[settings.GroupPreprocessor][pipeline.ParamCombEnabled])
	assert.Equal(t, uint(100), b[settings.GroupLocalizer][pipeline.ParamTagSize])

	v, err := o.Evaluate(context.Background(), q)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}
