package tuning

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tagtune/internal/groundtruth"
)

// F-beta weights per stage. Detection favours recall; shape fitting favours
// precision.
const (
	BetaDetection = 2.0
	BetaShapeFit  = 0.5
)

// ErrEmptyCorpus is returned when there is nothing to aggregate.
var ErrEmptyCorpus = errors.New("empty corpus")

// Score is a detection quality triple.
type Score struct {
	FScore    float64 `json:"fscore"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
}

// FBeta scores tp true positives and fp false positives against gt
// annotated tags. Undefined ratios are 0 and a NaN anywhere yields the zero
// Score.
func FBeta(tp, fp, gt int, beta float64) Score {
	var recall, precision float64
	if gt > 0 {
		recall = float64(tp) / float64(gt)
	}
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	b2 := beta * beta
	var f float64
	if denom := b2*precision + recall; denom > 0 {
		f = (1 + b2) * precision * recall / denom
	}
	if math.IsNaN(f) || math.IsNaN(recall) || math.IsNaN(precision) {
		return Score{}
	}
	return Score{FScore: f, Recall: recall, Precision: precision}
}

// DecodeDistance is the mean normalized Hamming distance between decoded and
// expected bits over all matches, or 1 when there are none. Missing bits count
// as wrong.
func DecodeDistance(matches []groundtruth.DecodeMatch) float64 {
	if len(matches) == 0 {
		return 1
	}
	d := make([]float64, len(matches))
	for i, m := range matches {
		d[i] = hamming(m.Decoded, m.Expected)
	}
	return stat.Mean(d, nil)
}

func hamming(got, want []bool) float64 {
	n := max(len(got), len(want))
	if n == 0 {
		return 0
	}
	diff := 0
	for i := 0; i < n; i++ {
		if i >= len(got) || i >= len(want) || got[i] != want[i] {
			diff++
		}
	}
	d := float64(diff) / float64(max(len(want), 1))
	return math.Min(d, 1)
}

// Metric tells which field of a Measurement is meaningful.
type Metric int

const (
	// MetricScore measurements carry a Score; higher is better.
	MetricScore Metric = iota
	// MetricDistance measurements carry a Distance; lower is better.
	MetricDistance
)

func (m Metric) String() string {
	switch m {
	case MetricScore:
		return "score"
	case MetricDistance:
		return "distance"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// Measurement is the quality of one stage on one item or a whole corpus.
type Measurement struct {
	Metric   Metric  `json:"metric"`
	Score    Score   `json:"score"`
	Distance float64 `json:"distance"`
}

// ScoreMeasurement wraps a detection score.
func ScoreMeasurement(s Score) Measurement {
	return Measurement{Metric: MetricScore, Score: s}
}

// DistanceMeasurement wraps a decode distance.
func DistanceMeasurement(d float64) Measurement {
	return Measurement{Metric: MetricDistance, Distance: d}
}

// Loss is the value an optimizer minimizes.
func (m Measurement) Loss() float64 {
	if m.Metric == MetricDistance {
		return m.Distance
	}
	return 1 - m.Score.FScore
}

func (m Measurement) String() string {
	if m.Metric == MetricDistance {
		return fmt.Sprintf("distance=%.4f", m.Distance)
	}
	return fmt.Sprintf("fscore=%.4f recall=%.4f precision=%.4f", m.Score.FScore, m.Score.Recall, m.Score.Precision)
}

// Better reports whether a ranks before b.
func Better(a, b Measurement) bool {
	if a.Metric == MetricDistance && b.Metric == MetricDistance {
		return a.Distance < b.Distance
	}
	return a.Score.FScore > b.Score.FScore
}

// Rank sorts ms best first.
func Rank(ms []Measurement) {
	sort.SliceStable(ms, func(i, j int) bool { return Better(ms[i], ms[j]) })
}

// Mean averages the fields of ms. All measurements must share a metric.
func Mean(ms []Measurement) (Measurement, error) {
	if len(ms) == 0 {
		return Measurement{}, ErrEmptyCorpus
	}
	metric := ms[0].Metric
	f := make([]float64, len(ms))
	r := make([]float64, len(ms))
	p := make([]float64, len(ms))
	d := make([]float64, len(ms))
	for i, m := range ms {
		if m.Metric != metric {
			return Measurement{}, fmt.Errorf("cannot average %s with %s", metric, m.Metric)
		}
		f[i], r[i], p[i], d[i] = m.Score.FScore, m.Score.Recall, m.Score.Precision, m.Distance
	}
	if metric == MetricDistance {
		return DistanceMeasurement(stat.Mean(d, nil)), nil
	}
	return ScoreMeasurement(Score{FScore: stat.Mean(f, nil), Recall: stat.Mean(r, nil), Precision: stat.Mean(p, nil)}), nil
}

// Aggregation selects how per-item measurements are reduced.
type Aggregation int

const (
	// AggregateItems averages over every item of the corpus.
	AggregateItems Aggregation = iota
	// AggregateFiles averages the per ground-truth file means.
	AggregateFiles
)

func (a Aggregation) String() string {
	if a == AggregateFiles {
		return "files"
	}
	return "items"
}

// Aggregate reduces per-partition measurements to one.
func Aggregate(perPartition [][]Measurement, mode Aggregation) (Measurement, error) {
	if mode == AggregateFiles {
		var means []Measurement
		for _, ms := range perPartition {
			if len(ms) == 0 {
				continue
			}
			m, err := Mean(ms)
			if err != nil {
				return Measurement{}, err
			}
			means = append(means, m)
		}
		return Mean(means)
	}
	var all []Measurement
	for _, ms := range perPartition {
		all = append(all, ms...)
	}
	return Mean(all)
}
