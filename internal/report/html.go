package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost serves the echarts scripts referenced by the HTML report.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WriteHTML renders an interactive line chart of the objective value and the
// best value so far.
func WriteHTML(w io.Writer, s Series) error {
	x := make([]string, 0, len(s.Points))
	values := make([]opts.LineData, 0, len(s.Points))
	best := make([]opts.LineData, 0, len(s.Points))
	for _, p := range s.Points {
		x = append(x, strconv.Itoa(p.Iteration))
		values = append(values, lineData(p.Value))
		best = append(best, lineData(p.Best))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.Title, Width: "100%", Height: "600px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: s.Title, Subtitle: s.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Objective", NameLocation: "middle", NameGap: 45, Scale: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("value", values, charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false)})).
		AddSeries("best", best, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(line)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

// lineData leaves a gap for values that cannot be drawn.
func lineData(v float64) opts.LineData {
	if !plottable(v) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}
