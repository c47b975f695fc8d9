package pipeline

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"

	"github.com/banshee-data/tagtune/internal/settings"
)

// Localizer parameter names.
const (
	ParamBinaryThreshold                   = "binary_threshold"
	ParamFirstDilationNumIterations        = "first_dilation_num_iterations"
	ParamFirstDilationSize                 = "first_dilation_size"
	ParamErosionSize                       = "erosion_size"
	ParamSecondDilationSize                = "second_dilation_size"
	ParamMinNumPixels                      = "min_num_pixels"
	ParamMaxNumPixels                      = "max_num_pixels"
	ParamTagSize                           = "tag_size"
	ParamDeeplocalizerFilter               = "deeplocalizer_filter"
	ParamDeeplocalizerModelFile            = "deeplocalizer_model_file"
	ParamDeeplocalizerParamFile            = "deeplocalizer_param_file"
	ParamDeeplocalizerProbabilityThreshold = "deeplocalizer_probability_threshold"
)

// localizerScale is the downscale factor applied before blob analysis.
const localizerScale = 4

// DefaultLocalizerSettings returns the values used when a key is absent.
func DefaultLocalizerSettings() settings.Settings {
	return settings.Settings{
		ParamBinaryThreshold:                   29,
		ParamFirstDilationNumIterations:        uint(4),
		ParamFirstDilationSize:                 uint(2),
		ParamErosionSize:                       uint(25),
		ParamSecondDilationSize:                uint(2),
		ParamMinNumPixels:                      uint(20),
		ParamMaxNumPixels:                      uint(150),
		ParamTagSize:                           uint(100),
		ParamDeeplocalizerFilter:               false,
		ParamDeeplocalizerModelFile:            "",
		ParamDeeplocalizerParamFile:            "",
		ParamDeeplocalizerProbabilityThreshold: 0.5,
	}
}

// Localizer finds tag-sized blobs of strong gradient and emits one square
// region of interest per blob.
type Localizer struct {
	binaryThreshold uint8
	firstIterations int
	firstRadius     float64
	erosionRadius   float64
	secondRadius    float64
	minPixels       int
	maxPixels       int
	tagSize         int

	filter          *TagFilter
	filterModel     string
	filterParams    string
	filterThreshold float64
}

// NewLocalizer returns a localizer loaded with default settings.
func NewLocalizer() *Localizer {
	l := &Localizer{}
	_ = l.LoadSettings(settings.Settings{})
	return l
}

// LoadSettings applies s on top of the defaults. When the deep localizer
// filter is enabled its model and parameter files are read here; they are only
// re-read when a path changes.
func (l *Localizer) LoadSettings(s settings.Settings) error {
	d := DefaultLocalizerSettings()
	d.Merge(s)

	l.binaryThreshold = uint8(clamp(float64(d.Int(ParamBinaryThreshold, 29)), 0, 255))
	l.firstIterations = int(d.Uint(ParamFirstDilationNumIterations, 4))
	l.firstRadius = float64(d.Uint(ParamFirstDilationSize, 2)) / 2
	l.erosionRadius = float64(d.Uint(ParamErosionSize, 25)) / 8
	l.secondRadius = float64(d.Uint(ParamSecondDilationSize, 2)) / 2
	l.minPixels = int(d.Uint(ParamMinNumPixels, 20))
	l.maxPixels = int(d.Uint(ParamMaxNumPixels, 150))
	l.tagSize = max(int(d.Uint(ParamTagSize, 100)), 2)
	l.filterThreshold = d.Float(ParamDeeplocalizerProbabilityThreshold, 0.5)

	if !d.Bool(ParamDeeplocalizerFilter, false) {
		l.filter = nil
		return nil
	}
	model := d.Str(ParamDeeplocalizerModelFile, "")
	params := d.Str(ParamDeeplocalizerParamFile, "")
	if l.filter != nil && model == l.filterModel && params == l.filterParams {
		return nil
	}
	f, err := LoadTagFilter(model, params)
	if err != nil {
		return fmt.Errorf("failed to load deep localizer filter: %w", err)
	}
	l.filter, l.filterModel, l.filterParams = f, model, params
	return nil
}

// Process returns the regions of interest found in in.Preprocessed. Boxes are
// clipped to the image and numbered in discovery order.
func (l *Localizer) Process(in PreprocessorResult) []Tag {
	src := in.Preprocessed
	w, h := src.Rect.Dx(), src.Rect.Dy()
	sw, sh := max(w/localizerScale, 1), max(h/localizerScale, 1)

	edges := sobel(src)
	small := imaging.Resize(edges, sw, sh, imaging.Box)
	bin := segment.Threshold(small, l.binaryThreshold)

	var blob image.Image = bin
	if l.firstRadius > 0 {
		for i := 0; i < l.firstIterations; i++ {
			blob = effect.Dilate(blob, l.firstRadius)
		}
	}
	if l.erosionRadius > 0 {
		blob = effect.Erode(blob, l.erosionRadius)
	}
	if l.secondRadius > 0 {
		blob = effect.Dilate(blob, l.secondRadius)
	}
	mask := segment.Threshold(blob, 128)

	bounds := image.Rect(0, 0, w, h)
	half := l.tagSize / 2
	var tags []Tag
	for _, c := range components(mask, false) {
		if c.area < l.minPixels || c.area > l.maxPixels {
			continue
		}
		cx, cy := c.centroid()
		fx := (cx + 0.5) * float64(w) / float64(sw)
		fy := (cy + 0.5) * float64(h) / float64(sh)
		box := image.Rect(int(fx)-half, int(fy)-half, int(fx)-half+l.tagSize, int(fy)-half+l.tagSize).Intersect(bounds)
		if box.Empty() {
			continue
		}
		if l.filter != nil && l.filter.Probability(in.Original, box) < l.filterThreshold {
			continue
		}
		tags = append(tags, Tag{ID: len(tags), Box: box, CX: fx, CY: fy})
	}
	return tags
}
