package downsample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func identity(v int) float64 { return float64(v) }

func TestReduceLongSeries(t *testing.T) {
	in := seq(1000)
	out := Reduce(in, 100)

	require.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), 100)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[len(in)-1], out[len(out)-1])
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1], out[i], "output must stay in time order")
	}
}

func TestReduceShortSeriesUnchanged(t *testing.T) {
	in := seq(50)
	assert.Equal(t, in, Reduce(in, 100))
	assert.Equal(t, in, Reduce(in, 50))
}

func TestReduceOddSizes(t *testing.T) {
	for n := 3; n < 300; n += 7 {
		for _, target := range []int{-1, 0, 1, 2, 3, 10, 33} {
			in := seq(n)
			out := Reduce(in, target)
			if n <= target {
				assert.Equal(t, in, out)
				continue
			}
			assert.LessOrEqual(t, len(out), max(target, 2), "n=%d target=%d", n, target)
			assert.Equal(t, 0, out[0])
			assert.Equal(t, n-1, out[len(out)-1])
		}
	}
}

func TestReduceEmpty(t *testing.T) {
	assert.Empty(t, Reduce([]int{}, 10))
	assert.Empty(t, Reduce[int](nil, 0))
}

func TestReducePeaksKeepsSpike(t *testing.T) {
	in := make([]int, 1000)
	in[517] = 99

	out := ReducePeaks(in, 50, identity)
	assert.LessOrEqual(t, len(out), 50)
	assert.Contains(t, out, 99)

	strided := Reduce(in, 50)
	assert.NotContains(t, strided, 99, "stride sampling is expected to miss the spike")
}

func TestReducePeaksAnchors(t *testing.T) {
	in := seq(1000)
	out := ReducePeaks(in, 100, identity)
	assert.LessOrEqual(t, len(out), 100)
	assert.Equal(t, 0, out[0])
	assert.Equal(t, 999, out[len(out)-1])

	short := seq(3)
	assert.Equal(t, short, ReducePeaks(short, 100, identity))

	tiny := ReducePeaks(seq(10), 1, identity)
	assert.Equal(t, []int{0, 9}, tiny)
}
