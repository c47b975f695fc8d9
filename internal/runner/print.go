package runner

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/tuning"
)

var stageBeta = map[string]float64{
	tuning.StageLocalizer:     tuning.BetaDetection,
	tuning.StageEllipseFitter: tuning.BetaShapeFit,
}

// formatPoint renders a query as [n](v0,v1,...).
func formatPoint(x []float64) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return fmt.Sprintf("[%d](%s)", len(x), strings.Join(parts, ","))
}

// printResult writes the best point of a stage, its settings and metrics.
func printResult(w io.Writer, res tuning.StageResult) {
	fmt.Fprintln(w, formatPoint(res.Query))
	for _, g := range settings.Groups {
		if s := res.Settings[g]; len(s) > 0 {
			fmt.Fprintf(w, "%s: %s\n", g, s.Format())
		}
	}
	printMeasurement(w, res.Stage, res.Measurement)
}

func printMeasurement(w io.Writer, stage string, m tuning.Measurement) {
	if m.Metric == tuning.MetricDistance {
		fmt.Fprintf(w, "Avg.Hamming: %g\n", m.Distance)
		return
	}
	label := "FScore"
	if beta, ok := stageBeta[stage]; ok {
		label = fmt.Sprintf("F%gScore", beta)
	}
	fmt.Fprintf(w, "%s: %g\n", label, m.Score.FScore)
	fmt.Fprintf(w, "Recall: %g\n", m.Score.Recall)
	fmt.Fprintf(w, "Precision: %g\n", m.Score.Precision)
}
