package stats

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAverage(t *testing.T) {
	assert.Equal(t, 0.0, Average(nil))
	assert.Equal(t, 7.5, Average([]float64{7.5}))
	assert.InDelta(t, 2.0, Average([]float64{1, 2, 3}), 1e-9)
}

func TestPercentiles(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		p10     float64
		p90     float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{42}, 42, 42},
		{"two samples clamp k to 1", []float64{1, 9}, 1, 9},
		{"four samples round down", []float64{1, 2, 3, 4}, 1, 4},
		{"ten samples", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 1, 10},
		{"fifteen samples round half up", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, 2, 14},
		{"twenty samples", []float64{
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10,
			11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		}, 2, 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.p10, Percentile10(tt.samples))
			assert.Equal(t, tt.p90, Percentile90(tt.samples))
		})
	}
}

func TestPercentilesDoNotMutateInput(t *testing.T) {
	in := []float64{1, 2, 3, 4, 5}
	cp := slices.Clone(in)
	Percentile10(in)
	Percentile90(in)
	Average(in)
	assert.Equal(t, cp, in)
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, 0.0, Min(nil))
	assert.Equal(t, 0.0, Max(nil))
	assert.Equal(t, 1.0, Min([]float64{3, 1, 2}))
	assert.Equal(t, 3.0, Max([]float64{3, 1, 2}))
}

func TestPercentileMonotonicity(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for n := 1; n <= 200; n++ {
		s := make([]float64, n)
		for i := range s {
			s[i] = r.Float64() * 1000
		}
		slices.Sort(s)

		p10, avg, p90 := Percentile10(s), Average(s), Percentile90(s)
		assert.LessOrEqual(t, p10, avg, "n=%d", n)
		assert.LessOrEqual(t, avg, p90, "n=%d", n)
		if n == 1 {
			assert.Equal(t, p10, avg)
			assert.Equal(t, avg, p90)
		}
	}
}
