package tcp

import "sort"

// Mean returns the arithmetic mean of xs. The policing detector's rate and
// RTT estimates only ever need Mean/Median/Percentile over small in-memory
// samples, so there's no need for numpy's vectorized machinery here - plain
// sort-based selection is both sufficient and dependency-free.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Median returns the median of xs, averaging the two middle values when len(xs) is even.
func Median(xs []float64) float64 {
	return Percentile(xs, 50)
}

// Percentile returns the pth percentile of xs using linear interpolation
// between closest ranks, matching numpy.percentile's default method.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
