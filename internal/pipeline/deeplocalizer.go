package pipeline

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
)

// numFilterFeatures is the length of the feature vector a TagFilter scores.
const numFilterFeatures = 3

// filterModel is the on-disk classifier: one weight per feature and a bias.
type filterModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// filterParams standardizes features before scoring.
type filterParams struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// TagFilter is a logistic classifier over simple appearance features of a
// region of interest (mean intensity, contrast and edge density). It rejects
// localizer boxes that do not look like tags.
type TagFilter struct {
	model  filterModel
	params filterParams
}

// LoadTagFilter reads a model file and a feature standardization file.
func LoadTagFilter(modelPath, paramPath string) (*TagFilter, error) {
	if modelPath == "" || paramPath == "" {
		return nil, fmt.Errorf("model and parameter paths are required")
	}
	f := &TagFilter{}
	if err := readJSON(modelPath, &f.model); err != nil {
		return nil, err
	}
	if err := readJSON(paramPath, &f.params); err != nil {
		return nil, err
	}
	if len(f.model.Weights) != numFilterFeatures {
		return nil, fmt.Errorf("model %s: expected %d weights, got %d", modelPath, numFilterFeatures, len(f.model.Weights))
	}
	if len(f.params.Mean) != numFilterFeatures || len(f.params.Scale) != numFilterFeatures {
		return nil, fmt.Errorf("parameters %s: expected %d means and scales", paramPath, numFilterFeatures)
	}
	return f, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Probability returns the classifier's belief that box in img contains a tag.
func (f *TagFilter) Probability(img *image.Gray, box image.Rectangle) float64 {
	feats := filterFeatures(cropGray(img, box))
	z := f.model.Bias
	for i, v := range feats {
		scale := f.params.Scale[i]
		if scale == 0 {
			scale = 1
		}
		z += f.model.Weights[i] * (v - f.params.Mean[i]) / scale
	}
	return 1 / (1 + math.Exp(-z))
}

func filterFeatures(roi *image.Gray) [numFilterFeatures]float64 {
	in := newIntegral(roi)
	mean, variance := in.stats(0, 0, roi.Rect.Dx(), roi.Rect.Dy())

	edges := sobel(roi)
	strong := 0
	for y := 0; y < edges.Rect.Dy(); y++ {
		for x := 0; x < edges.Rect.Dx(); x++ {
			if edges.Pix[y*edges.Stride+x] >= 64 {
				strong++
			}
		}
	}
	density := 0.0
	if n := edges.Rect.Dx() * edges.Rect.Dy(); n > 0 {
		density = float64(strong) / float64(n)
	}
	return [numFilterFeatures]float64{mean / 255, math.Sqrt(variance) / 255, density}
}
