package tuning

import (
	"math"

	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/settings"
)

// smallestNormal is the lower limit of parameters that must stay positive.
const smallestNormal = 0x1p-1022

// SpaceOptions select optional parts of the default spaces.
type SpaceOptions struct {
	// DeepLocalizer enables the learned tag filter after localization and
	// makes its probability threshold tunable.
	DeepLocalizer bool
	ModelPath     string
	ParamPath     string
}

// DefaultLocalizerSpace returns the detection stage space: the localizer
// parameters followed by the preprocessor parameters.
func DefaultLocalizerSpace(opts SpaceOptions) *Space {
	s := NewSpace()
	l, p := settings.GroupLocalizer, settings.GroupPreprocessor
	s.MustRegister(l, pipeline.ParamBinaryThreshold, 10, 50, KindInteger)
	s.MustRegister(l, pipeline.ParamFirstDilationNumIterations, 1, 5, KindUnsigned)
	s.MustRegister(l, pipeline.ParamFirstDilationSize, 1, 10, KindUnsigned)
	s.MustRegister(l, pipeline.ParamErosionSize, 10, 40, KindUnsigned)
	s.MustRegister(l, pipeline.ParamSecondDilationSize, 1, 5, KindUnsigned)
	s.MustRegister(l, pipeline.ParamMinNumPixels, 1, 200, KindUnsigned)
	s.MustRegister(l, pipeline.ParamMaxNumPixels, 1, 200, KindUnsigned)

	s.MustRegister(p, pipeline.ParamOptFrameSize, 25, 500, KindUnsigned)
	s.MustRegister(p, pipeline.ParamOptAverageContrastValue, 0, 255, KindReal)
	s.MustRegister(p, pipeline.ParamCombMinSize, 0, 150, KindUnsigned)
	s.MustRegister(p, pipeline.ParamCombMaxSize, 0, 150, KindUnsigned)
	s.MustRegister(p, pipeline.ParamCombThreshold, 0, 255, KindReal)
	s.MustRegister(p, pipeline.ParamHoneyStdDev, 0, 255, KindReal)
	s.MustRegister(p, pipeline.ParamHoneyFrameSize, 5, 50, KindUnsigned)
	s.MustRegister(p, pipeline.ParamHoneyAverageValue, 0, 255, KindReal)
	// Registered twice in the historic table; the second one is ignored.
	s.MustRegister(p, pipeline.ParamOptAverageContrastValue, 0, 255, KindReal)

	if opts.DeepLocalizer {
		s.MustRegister(l, pipeline.ParamDeeplocalizerProbabilityThreshold, 0, 1, KindReal)
	}
	return s
}

// LocalizerFixed returns the settings applied under every detection query.
func LocalizerFixed(opts SpaceOptions) settings.Bundle {
	b := settings.Bundle{
		settings.GroupPreprocessor: settings.Settings{
			pipeline.ParamCombEnabled:  true,
			pipeline.ParamHoneyEnabled: true,
		},
		settings.GroupLocalizer: settings.Settings{
			pipeline.ParamTagSize: uint(100),
		},
	}
	if opts.DeepLocalizer {
		loc := b[settings.GroupLocalizer]
		loc.Set(pipeline.ParamDeeplocalizerFilter, true)
		loc.Set(pipeline.ParamDeeplocalizerModelFile, opts.ModelPath)
		loc.Set(pipeline.ParamDeeplocalizerParamFile, opts.ParamPath)
	}
	return b
}

// DefaultLocalizerRules returns the feasibility rules of the detection stage.
func DefaultLocalizerRules() []Rule {
	return []Rule{
		LessOrEqual(settings.GroupLocalizer, pipeline.ParamMinNumPixels, pipeline.ParamMaxNumPixels),
		LessOrEqual(settings.GroupPreprocessor, pipeline.ParamCombMinSize, pipeline.ParamCombMaxSize),
	}
}

// DefaultEllipseFitterSpace returns the shape-fit stage space.
func DefaultEllipseFitterSpace(SpaceOptions) *Space {
	s := NewSpace()
	g := settings.GroupEllipseFitter
	s.MustRegister(g, pipeline.ParamCannyInitialHigh, 25, 150, KindInteger)
	s.MustRegister(g, pipeline.ParamCannyValuesDistance, 10, 100, KindInteger)
	s.MustRegister(g, pipeline.ParamCannyMeanMin, 5, 12, KindInteger)
	s.MustRegister(g, pipeline.ParamCannyMeanMax, 13, 30, KindInteger)
	s.MustRegister(g, pipeline.ParamMinMajorAxis, 20, 45, KindInteger)
	s.MustRegister(g, pipeline.ParamMaxMajorAxis, 46, 70, KindInteger)
	s.MustRegister(g, pipeline.ParamMinMinorAxis, 20, 45, KindInteger)
	s.MustRegister(g, pipeline.ParamMaxMinorAxis, 46, 70, KindInteger)
	s.MustRegister(g, pipeline.ParamThresholdEdgePixels, 15, 50, KindInteger)
	s.MustRegister(g, pipeline.ParamThresholdBestVote, 1500, 4000, KindInteger)
	s.MustRegister(g, pipeline.ParamThresholdVote, 500, 1400, KindInteger)
	return s
}

// DefaultEllipseFitterRules returns the feasibility rules of the shape-fit
// stage. With the default limits they always hold; they matter once limits
// are overridden.
func DefaultEllipseFitterRules() []Rule {
	g := settings.GroupEllipseFitter
	return []Rule{
		Less(g, pipeline.ParamCannyMeanMin, pipeline.ParamCannyMeanMax),
		Less(g, pipeline.ParamMinMajorAxis, pipeline.ParamMaxMajorAxis),
		Less(g, pipeline.ParamMinMinorAxis, pipeline.ParamMaxMinorAxis),
	}
}

// DefaultGridFitterSpace returns the grid-fit stage space.
func DefaultGridFitterSpace(SpaceOptions) *Space {
	s := NewSpace()
	g := settings.GroupGridFitter
	s.MustRegister(g, pipeline.ParamErrFuncAlphaInner, 0, 1, KindReal)
	s.MustRegister(g, pipeline.ParamErrFuncAlphaOuter, 0, 1, KindReal)
	s.MustRegister(g, pipeline.ParamErrFuncAlphaVariance, 0, 1, KindReal)
	s.MustRegister(g, pipeline.ParamErrFuncAlphaOuterEdge, 0, 1, KindReal)
	s.MustRegister(g, pipeline.ParamErrFuncAlphaInnerEdge, 0, 1, KindReal)
	s.MustRegister(g, pipeline.ParamAdaptiveBlockSize, 3, 61, KindOdd)
	s.MustRegister(g, pipeline.ParamAdaptiveC, 0, 255, KindReal)
	s.MustRegister(g, pipeline.ParamGradientErrorThreshold, 0, 1, KindReal)
	s.MustRegister(g, pipeline.ParamEpsAngle, smallestNormal, 10, KindReal)
	s.MustRegister(g, pipeline.ParamEpsPos, 1, 5, KindInteger)
	s.MustRegister(g, pipeline.ParamEpsScale, smallestNormal, 10, KindReal)
	s.MustRegister(g, pipeline.ParamAlpha, smallestNormal, 100, KindReal)
	return s
}

// WorstValue returns the loss reported for infeasible queries of metric.
func WorstValue(m Metric) float64 {
	if m == MetricDistance {
		return math.MaxFloat64
	}
	return 1
}
