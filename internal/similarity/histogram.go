package similarity

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// Bins is the number of histogram bins per video.
const Bins = 255

// IntensityCounts tallies greyscale pixel values.
type IntensityCounts [256]uint64

// Add counts every pixel of a greyscale frame.
func (c *IntensityCounts) Add(frame []byte) {
	for _, px := range frame {
		c[px]++
	}
}

// Histogram bins the counted pixels into n equal-width bins spanning the
// observed minimum to maximum intensity. When every pixel has the same value
// the range is widened by half a unit on each side. Bin assignment follows
// numpy.histogram, including its edge corrections.
func (c *IntensityCounts) Histogram(n int) []float64 {
	hist := make([]float64, n)

	lo, hi := -1, -1
	for v, count := range c {
		if count == 0 {
			continue
		}
		if lo < 0 {
			lo = v
		}
		hi = v
	}

	if lo < 0 {
		return hist
	}

	first, last := float64(lo), float64(hi)
	if first == last {
		first -= 0.5
		last += 0.5
	}

	edges := linspace(first, last, n+1)
	norm := float64(n) / (last - first)

	for v := lo; v <= hi; v++ {
		count := c[v]
		if count == 0 {
			continue
		}

		x := float64(v)
		idx := int((x - first) * norm)
		if idx == n {
			idx--
		}
		if x < edges[idx] {
			idx--
		}
		if idx != n-1 && x >= edges[idx+1] {
			idx++
		}

		hist[idx] += float64(count)
	}

	return hist
}

// linspace mirrors numpy.linspace with the endpoint pinned to stop.
func linspace(start, stop float64, num int) []float64 {
	out := make([]float64, num)
	step := (stop - start) / float64(num-1)

	for i := range out {
		out[i] = float64(i)*step + start
	}
	out[num-1] = stop

	return out
}

// Spearman returns the Spearman rank correlation of a and b: the Pearson
// correlation of their average-tie ranks. It is 0 when either input is
// constant and NaN when the lengths differ or are empty.
func Spearman(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.NaN()
	}

	rho, err := stats.Correlation(rank(a), rank(b))
	if err != nil || math.IsNaN(rho) {
		return 0
	}

	return rho
}

// rank assigns 1-based ranks, giving tied values the mean of their positions.
func rank(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return values[idx[i]] < values[idx[j]]
	})

	ranks := make([]float64, len(values))

	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && values[idx[j+1]] == values[idx[i]] {
			j++
		}

		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}

		i = j + 1
	}

	return ranks
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	rounded, err := stats.Round(x, places)
	if err != nil {
		return x
	}
	return rounded
}
