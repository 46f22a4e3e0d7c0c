// Package histogram summarizes latency samples into the compact quantile
// form carried by ws_metrics events.
package histogram

import (
	"math"
	"sort"
)

// Summary is the quantile digest of a set of millisecond samples.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Mean  float64 `json:"mean"`
}

// Summarize computes the digest of valuesMS. An empty input yields the zero
// Summary. Values are rounded to 3 decimal places for stable log output.
func Summarize(valuesMS []float64) Summary {
	if len(valuesMS) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), valuesMS...)
	sort.Float64s(sorted)

	total := 0.0
	for _, v := range sorted {
		total += v
	}
	n := len(sorted)
	return Summary{
		Count: n,
		Min:   round3(sorted[0]),
		Max:   round3(sorted[n-1]),
		P50:   round3(percentile(sorted, 0.50)),
		P95:   round3(percentile(sorted, 0.95)),
		P99:   round3(percentile(sorted, 0.99)),
		Mean:  round3(total / float64(n)),
	}
}

// percentile interpolates linearly between the two nearest ranks of an
// already-sorted slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := float64(len(sorted)-1) * q
	lo := int(pos)
	hi := lo + 1
	if hi > len(sorted)-1 {
		hi = len(sorted) - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
