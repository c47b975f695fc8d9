package pipeline

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/tagtune/internal/settings"
)

// Preprocessor parameter names.
const (
	ParamOptFrameSize            = "opt_frame_size"
	ParamOptAverageContrastValue = "opt_average_contrast_value"
	ParamCombEnabled             = "comb_enabled"
	ParamCombMinSize             = "comb_min_size"
	ParamCombMaxSize             = "comb_max_size"
	ParamCombThreshold           = "comb_threshold"
	ParamHoneyEnabled            = "honey_enabled"
	ParamHoneyStdDev             = "honey_std_dev"
	ParamHoneyFrameSize          = "honey_frame_size"
	ParamHoneyAverageValue       = "honey_average_value"
)

// DefaultPreprocessorSettings returns the values used when a key is absent.
func DefaultPreprocessorSettings() settings.Settings {
	return settings.Settings{
		ParamOptFrameSize:            uint(200),
		ParamOptAverageContrastValue: 120.0,
		ParamCombEnabled:             true,
		ParamCombMinSize:             uint(65),
		ParamCombMaxSize:             uint(100),
		ParamCombThreshold:           27.0,
		ParamHoneyEnabled:            true,
		ParamHoneyStdDev:             30.0,
		ParamHoneyFrameSize:          uint(20),
		ParamHoneyAverageValue:       60.0,
	}
}

// PreprocessorResult carries the raw frame and its enhanced copy.
type PreprocessorResult struct {
	Original     *image.Gray
	Preprocessed *image.Gray
}

// Preprocessor equalizes local contrast and suppresses honey cells and comb
// edges that would otherwise be localized as tags.
type Preprocessor struct {
	frameSize      int
	targetContrast float64

	combEnabled   bool
	combMinSize   int
	combMaxSize   int
	combThreshold uint8

	honeyEnabled   bool
	honeyStdDev    float64
	honeyFrameSize int
	honeyAverage   float64
}

// NewPreprocessor returns a preprocessor loaded with default settings.
func NewPreprocessor() *Preprocessor {
	p := &Preprocessor{}
	_ = p.LoadSettings(settings.Settings{})
	return p
}

// LoadSettings applies s on top of the defaults.
func (p *Preprocessor) LoadSettings(s settings.Settings) error {
	d := DefaultPreprocessorSettings()
	d.Merge(s)
	p.frameSize = max(int(d.Uint(ParamOptFrameSize, 200)), 1)
	p.targetContrast = d.Float(ParamOptAverageContrastValue, 120)
	p.combEnabled = d.Bool(ParamCombEnabled, true)
	p.combMinSize = int(d.Uint(ParamCombMinSize, 65))
	p.combMaxSize = int(d.Uint(ParamCombMaxSize, 100))
	p.combThreshold = uint8(clamp(d.Float(ParamCombThreshold, 27), 0, 255))
	p.honeyEnabled = d.Bool(ParamHoneyEnabled, true)
	p.honeyStdDev = d.Float(ParamHoneyStdDev, 30)
	p.honeyFrameSize = max(int(d.Uint(ParamHoneyFrameSize, 20)), 1)
	p.honeyAverage = d.Float(ParamHoneyAverageValue, 60)
	return nil
}

// Process enhances img. img itself is never modified.
func (p *Preprocessor) Process(img *image.Gray) PreprocessorResult {
	out := image.NewGray(image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
	for y := 0; y < out.Rect.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+out.Rect.Dx()], img.Pix[y*img.Stride:])
	}

	p.equalizeContrast(out)
	if p.honeyEnabled {
		p.flattenHoney(out)
	}
	if p.combEnabled {
		p.suppressComb(out)
	}
	return PreprocessorResult{Original: img, Preprocessed: out}
}

// equalizeContrast stretches each frameSize block so its mean absolute
// deviation approaches half the target contrast value.
func (p *Preprocessor) equalizeContrast(img *image.Gray) {
	if p.targetContrast <= 0 {
		return
	}
	in := newIntegral(img)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for by := 0; by < h; by += p.frameSize {
		for bx := 0; bx < w; bx += p.frameSize {
			mean, variance := in.stats(bx, by, bx+p.frameSize, by+p.frameSize)
			std := math.Sqrt(variance)
			if std < 1 {
				continue
			}
			gain := clamp(p.targetContrast/2/std, 0.25, 4)
			for y := by; y < min(by+p.frameSize, h); y++ {
				row := img.Pix[y*img.Stride:]
				for x := bx; x < min(bx+p.frameSize, w); x++ {
					v := mean + (float64(row[x])-mean)*gain
					row[x] = uint8(clamp(math.Round(v), 0, 255))
				}
			}
		}
	}
}

// flattenHoney replaces bright, low-variance blocks (capped honey cells) by
// their mean so they produce no edges.
func (p *Preprocessor) flattenHoney(img *image.Gray) {
	in := newIntegral(img)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	fs := p.honeyFrameSize
	for by := 0; by < h; by += fs {
		for bx := 0; bx < w; bx += fs {
			mean, variance := in.stats(bx, by, bx+fs, by+fs)
			if math.Sqrt(variance) >= p.honeyStdDev || mean <= p.honeyAverage {
				continue
			}
			v := uint8(clamp(math.Round(mean), 0, 255))
			for y := by; y < min(by+fs, h); y++ {
				row := img.Pix[y*img.Stride:]
				for x := bx; x < min(bx+fs, w); x++ {
					row[x] = v
				}
			}
		}
	}
}

// suppressComb blurs strong edge structures whose size falls into the comb
// range. Sizes are measured as the longer bounding-box side in pixels.
func (p *Preprocessor) suppressComb(img *image.Gray) {
	if p.combMaxSize <= 0 || p.combMinSize > p.combMaxSize {
		return
	}
	edges := sobel(img)
	bin := image.NewGray(edges.Rect)
	for i, v := range edges.Pix {
		if v >= p.combThreshold && p.combThreshold > 0 {
			bin.Pix[i] = 255
		}
	}
	blurred := ToGray(imaging.Blur(img, 2))
	for _, c := range components(bin, true) {
		size := max(c.maxX-c.minX, c.maxY-c.minY) + 1
		if size < p.combMinSize || size > p.combMaxSize {
			continue
		}
		// Long thin structures only; compact blobs are tag candidates.
		if float64(c.area) > 0.35*float64((c.maxX-c.minX+1)*(c.maxY-c.minY+1)) {
			continue
		}
		for _, pt := range c.pixels {
			img.Pix[pt.Y*img.Stride+pt.X] = blurred.Pix[pt.Y*blurred.Stride+pt.X]
		}
	}
}
