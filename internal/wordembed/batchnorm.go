package wordembed

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultEpsilon is added to the variance before taking the square root.
const DefaultEpsilon = 1e-5

// BatchNormalize normalizes each feature over the batch with the batch mean
// and biased variance. A single-row batch has no usable statistics and is
// scaled with unit running statistics (mean 0, variance 1) instead.
func BatchNormalize(x [][]float32, eps float64) [][]float32 {
	if len(x) == 0 {
		return x
	}
	dim := len(x[0])
	out := make([][]float32, len(x))
	for i := range out {
		out[i] = make([]float32, dim)
	}

	if len(x) == 1 {
		scale := 1 / math.Sqrt(1+eps)
		for j, v := range x[0] {
			out[0][j] = float32(float64(v) * scale)
		}
		return out
	}

	column := make([]float64, len(x))
	for j := 0; j < dim; j++ {
		for i := range x {
			column[i] = float64(x[i][j])
		}
		mean, variance := stat.PopMeanVariance(column, nil)
		denom := math.Sqrt(variance + eps)
		for i := range x {
			out[i][j] = float32((column[i] - mean) / denom)
		}
	}
	return out
}
