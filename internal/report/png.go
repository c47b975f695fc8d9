package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	valueColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	bestColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// WritePNG saves a static convergence plot to path.
func WritePNG(path string, s Series) error {
	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Objective"

	pts := s.Feasible()
	if len(pts) > 0 {
		values := make(plotter.XYs, 0, len(pts))
		for _, pt := range pts {
			values = append(values, plotter.XY{X: float64(pt.Iteration), Y: pt.Value})
		}
		scatter, err := plotter.NewScatter(values)
		if err != nil {
			return fmt.Errorf("failed to create value series: %w", err)
		}
		scatter.Color = valueColor
		scatter.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add("value", scatter)
	}

	best := make(plotter.XYs, 0, len(s.Points))
	for _, pt := range s.Points {
		if plottable(pt.Best) {
			best = append(best, plotter.XY{X: float64(pt.Iteration), Y: pt.Best})
		}
	}
	if len(best) > 0 {
		line, err := plotter.NewLine(best)
		if err != nil {
			return fmt.Errorf("failed to create best series: %w", err)
		}
		line.Color = bestColor
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("best", line)
	}
	p.Add(plotter.NewGrid())

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
