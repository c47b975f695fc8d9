// Package report renders optimizer convergence charts.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// capValue hides infeasible and failed evaluations, which carry the largest
// double, from the charts.
const capValue = 1e300

// Point is one objective evaluation.
type Point struct {
	Iteration int
	Phase     string
	Value     float64
	Best      float64
}

// Series is the convergence history of one stage run.
type Series struct {
	Title    string
	Subtitle string
	Points   []Point
}

func plottable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) < capValue
}

// Feasible returns the points whose value can be drawn.
func (s Series) Feasible() []Point {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if plottable(p.Value) {
			out = append(out, p)
		}
	}
	return out
}

// Files lists what Write produced.
type Files struct {
	HTML string
	PNG  string
}

// Write renders s as <name>.html and <name>.png in dir.
func Write(dir, name string, s Series) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("failed to create report directory: %w", err)
	}
	files := Files{
		HTML: filepath.Join(dir, name+".html"),
		PNG:  filepath.Join(dir, name+".png"),
	}

	f, err := os.Create(files.HTML)
	if err != nil {
		return Files{}, fmt.Errorf("failed to create %s: %w", files.HTML, err)
	}
	if err := WriteHTML(f, s); err != nil {
		f.Close()
		return Files{}, err
	}
	if err := f.Close(); err != nil {
		return Files{}, fmt.Errorf("failed to close %s: %w", files.HTML, err)
	}

	if err := WritePNG(files.PNG, s); err != nil {
		return Files{}, err
	}
	return files, nil
}
