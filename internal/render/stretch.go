package render

import (
	"math"
	"slices"

	"github.com/montanaflynn/stats"
)

// Limits returns the clipPercent and 100-clipPercent percentiles of the
// finite samples, linearly interpolated between closest ranks so both tails
// are clipped alike. A clip outside (0,50) uses min/max.
func Limits(data []float64, clipPercent float64) (lo, hi float64, ok bool) {
	finite := make(stats.Float64Data, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0, false
	}
	if clipPercent <= 0 || clipPercent >= 50 {
		lo, _ = stats.Min(finite)
		hi, _ = stats.Max(finite)
		return lo, hi, true
	}

	slices.Sort(finite)
	return percentile(finite, clipPercent), percentile(finite, 100-clipPercent), true
}

// percentile interpolates at rank (n-1)*p/100 of sorted data.
func percentile(sorted []float64, p float64) float64 {
	rank := float64(len(sorted)-1) * p / 100
	i := int(math.Floor(rank))
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

// Stretch maps each channel linearly from its clipped percentile range onto
// [0,1]. NaN stays NaN. A flat channel maps to 0.
func Stretch(ch []float64, clipPercent float64) []float64 {
	out := make([]float64, len(ch))
	lo, hi, ok := Limits(ch, clipPercent)
	span := hi - lo
	for i, v := range ch {
		switch {
		case !ok || math.IsNaN(v):
			out[i] = math.NaN()
		case span <= 0:
			out[i] = 0
		default:
			out[i] = clamp01((v - lo) / span)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
