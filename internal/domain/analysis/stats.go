package analysis

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/normscope/internal/domain/classifier"
	"github.com/okian/normscope/internal/domain/model"
)

// summarize aggregates the deviation percentages of analyzed records.
// An empty input yields zero values and an empty histogram.
func summarize(percents []float64, statuses []model.Status) model.Stats {
	sum := classifier.Summarize(statuses)
	st := model.Stats{
		Histogram:      sum.Histogram,
		Worst:          sum.Worst,
		ActionFraction: sum.ActionFraction,
	}
	if len(percents) == 0 {
		return st
	}
	st.Mean, st.StdDev = stat.PopMeanStdDev(percents, nil)
	st.Min = floats.Min(percents)
	st.Max = floats.Max(percents)
	st.Median = median(percents)
	return st
}

// median averages the two middle values for an even count.
func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
