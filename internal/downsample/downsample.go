// Package downsample reduces long time series to a bounded number of points
// for display. Both strategies run in a single pass over the input and always
// keep the first and last point so the visible time range is preserved.
package downsample

// minPoints is the smallest output size that can anchor both ends
const minPoints = 2

// Reduce keeps every stride-th point, stride = ceil(n/target). When the
// input already fits it is returned unchanged.
func Reduce[T any](series []T, target int) []T {
	n := len(series)
	if n <= target {
		return series
	}
	target = max(target, minPoints)
	if n <= target {
		return series
	}

	stride := (n + target - 1) / target
	out := make([]T, 0, target)
	for i := 0; i < n; i += stride {
		out = append(out, series[i])
	}

	// Swap the final sample for the true last point rather than appending,
	// which would exceed the target.
	if (n-1)%stride != 0 {
		out[len(out)-1] = series[n-1]
	}
	return out
}

// ReducePeaks splits the interior of the series into target-2 buckets and
// keeps the point with the largest value from each, so short spikes survive
// the reduction. The first and last points are always kept.
func ReducePeaks[T any](series []T, target int, value func(T) float64) []T {
	n := len(series)
	if n <= target {
		return series
	}
	target = max(target, minPoints)
	if n <= target {
		return series
	}

	out := make([]T, 0, target)
	out = append(out, series[0])

	buckets := target - minPoints
	interior := n - minPoints
	for b := 0; b < buckets; b++ {
		start := 1 + b*interior/buckets
		end := 1 + (b+1)*interior/buckets
		if start >= end {
			continue
		}
		best := start
		for i := start + 1; i < end; i++ {
			if value(series[i]) > value(series[best]) {
				best = i
			}
		}
		out = append(out, series[best])
	}

	return append(out, series[n-1])
}
